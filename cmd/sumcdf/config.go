package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/soypat/texel/filters"
)

// Config selects how the input is laid out in memory and which passes run.
type Config struct {
	// ExclusiveSum stores at each texel the sum of the texels strictly before it.
	ExclusiveSum bool `toml:"exclusive_sum"`
	// UseOverlappingRegions adds a second region at a quarter of the mip extent
	// sharing bytes with the full region. Each region is summed on its own.
	UseOverlappingRegions bool `toml:"use_overlapping_regions"`
	// UseImageView lays out the output with one region per mip level.
	UseImageView bool `toml:"use_image_view"`
	MipLevel     int  `toml:"mip_level"`
	Normalize    bool `toml:"normalize"`
	// Luminance sums the gray level of the input instead of its RGBA channels.
	Luminance bool `toml:"luminance"`
	// Float64 stores sums in 64 bit floats instead of 32 bit ones.
	Float64 bool `toml:"float64"`
	// Axes lists the summed axes, i.e: "xy".
	Axes string `toml:"axes"`
	// Dither is one of "none", "white" or "ordered".
	Dither     string `toml:"dither"`
	DitherSeed uint64 `toml:"dither_seed"`
	Sequential bool   `toml:"sequential"`
	OutputDir  string `toml:"output_dir"`
	// OutputFormat is one of "png", "tiff" or "bmp".
	OutputFormat string `toml:"output_format"`
	// WriteRaw also dumps the raw summed area table buffer.
	WriteRaw bool `toml:"write_raw"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Axes:         "xy",
		Dither:       "white",
		DitherSeed:   1,
		OutputDir:    ".",
		OutputFormat: "png",
	}
}

// LoadConfig reads a TOML configuration over the defaults. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	fp, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer fp.Close()
	err = toml.NewDecoder(fp).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return cfg, fmt.Errorf("%s:%d:%d: %w", path, row, col, err)
		}
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks option values that cannot be checked by the decoder.
func (c Config) Validate() error {
	if c.MipLevel < 0 {
		return fmt.Errorf("negative mip level %d", c.MipLevel)
	}
	if _, err := parseAxes(c.Axes); err != nil {
		return err
	}
	if _, err := c.dither(); err != nil {
		return err
	}
	switch c.OutputFormat {
	case "png", "tiff", "bmp":
	default:
		return fmt.Errorf("unknown output format %q", c.OutputFormat)
	}
	return nil
}

func (c Config) sumMode() filters.SumMode {
	if c.ExclusiveSum {
		return filters.Exclusive
	}
	return filters.Inclusive
}

func (c Config) policy() filters.Policy {
	if c.Sequential {
		return filters.Sequential
	}
	return filters.ParallelUnordered
}

func (c Config) dither() (filters.Dither, error) {
	switch strings.ToLower(c.Dither) {
	case "", "none":
		return nil, nil
	case "white":
		return filters.NewWhiteNoise(c.DitherSeed), nil
	case "ordered":
		return filters.Ordered{}, nil
	}
	return nil, fmt.Errorf("unknown dither %q", c.Dither)
}

func parseAxes(s string) (filters.AxisMask, error) {
	var m filters.AxisMask
	for _, r := range strings.ToLower(s) {
		switch r {
		case 'x':
			m |= filters.AxisX
		case 'y':
			m |= filters.AxisY
		case 'z':
			m |= filters.AxisZ
		default:
			return 0, fmt.Errorf("bad axis %q in %q", r, s)
		}
	}
	return m, nil
}
