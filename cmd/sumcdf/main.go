// Command sumcdf computes the summed area table of images and restores them
// from it with a discrete difference convolution.
//
// Usage:
//
//	sumcdf --config sumcdf.toml photo.png
//	sumcdf --axes xy --mip 2 --image-view --overlap --format tiff photo.png
//
// Each input produces <name>_sat and <name>_restored images in the output
// directory. The table is scaled by its maximum so it fits a displayable range.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		quiet      bool
		flagCfg    = DefaultConfig()
	)
	cmd := &cobra.Command{
		Use:          "sumcdf [flags] image...",
		Short:        "Summed area tables and their discrete difference",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd.ErrOrStderr(), logLevel, quiet)
			if err != nil {
				return err
			}
			cfg := DefaultConfig()
			if configPath != "" {
				cfg, err = LoadConfig(configPath)
				if err != nil {
					return err
				}
				log.Debug("loaded config", "path", configPath)
			}
			overrideConfig(cmd, &cfg, flagCfg)
			if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
				return err
			}
			p, err := newPipeline(cfg, log)
			if err != nil {
				return err
			}
			for _, path := range args {
				outputs, err := p.Run(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				for _, out := range outputs {
					fmt.Fprintln(cmd.OutOrStdout(), out)
				}
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&configPath, "config", "", "TOML configuration file; flags override its values")
	fs.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.BoolVarP(&quiet, "quiet", "q", false, "disable logging")
	fs.BoolVar(&flagCfg.ExclusiveSum, "exclusive", flagCfg.ExclusiveSum, "exclusive running sums")
	fs.BoolVar(&flagCfg.UseOverlappingRegions, "overlap", flagCfg.UseOverlappingRegions, "add a region aliasing the middle of the table")
	fs.BoolVar(&flagCfg.UseImageView, "image-view", flagCfg.UseImageView, "one output region per mip level")
	fs.IntVar(&flagCfg.MipLevel, "mip", flagCfg.MipLevel, "mip level to process")
	fs.BoolVar(&flagCfg.Normalize, "normalize", flagCfg.Normalize, "divide sums by their total")
	fs.BoolVar(&flagCfg.Luminance, "luminance", flagCfg.Luminance, "sum the gray level only")
	fs.BoolVar(&flagCfg.Float64, "float64", flagCfg.Float64, "store sums as 64 bit floats")
	fs.StringVar(&flagCfg.Axes, "axes", flagCfg.Axes, "summed axes, any of xyz")
	fs.StringVar(&flagCfg.Dither, "dither", flagCfg.Dither, "dither: none, white or ordered")
	fs.Uint64Var(&flagCfg.DitherSeed, "seed", flagCfg.DitherSeed, "white noise dither seed")
	fs.BoolVar(&flagCfg.Sequential, "sequential", flagCfg.Sequential, "run filters on a single goroutine")
	fs.StringVarP(&flagCfg.OutputDir, "output", "o", flagCfg.OutputDir, "output directory")
	fs.StringVar(&flagCfg.OutputFormat, "format", flagCfg.OutputFormat, "output format: png, tiff or bmp")
	fs.BoolVar(&flagCfg.WriteRaw, "raw", flagCfg.WriteRaw, "also write the raw table buffer")
	return cmd
}

// overrideConfig copies into cfg the values of flags set on the command line.
func overrideConfig(cmd *cobra.Command, cfg *Config, flags Config) {
	overrides := map[string]func(){
		"exclusive":  func() { cfg.ExclusiveSum = flags.ExclusiveSum },
		"overlap":    func() { cfg.UseOverlappingRegions = flags.UseOverlappingRegions },
		"image-view": func() { cfg.UseImageView = flags.UseImageView },
		"mip":        func() { cfg.MipLevel = flags.MipLevel },
		"normalize":  func() { cfg.Normalize = flags.Normalize },
		"luminance":  func() { cfg.Luminance = flags.Luminance },
		"float64":    func() { cfg.Float64 = flags.Float64 },
		"axes":       func() { cfg.Axes = flags.Axes },
		"dither":     func() { cfg.Dither = flags.Dither },
		"seed":       func() { cfg.DitherSeed = flags.DitherSeed },
		"sequential": func() { cfg.Sequential = flags.Sequential },
		"output":     func() { cfg.OutputDir = flags.OutputDir },
		"format":     func() { cfg.OutputFormat = flags.OutputFormat },
		"raw":        func() { cfg.WriteRaw = flags.WriteRaw },
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}
