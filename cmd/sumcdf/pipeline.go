package main

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soypat/texel"
	"github.com/soypat/texel/filters"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// pipeline loads an image, builds its summed area table at one mip level and
// restores the image from the table with a discrete difference convolution.
type pipeline struct {
	cfg    Config
	log    *slog.Logger
	axes   filters.AxisMask
	dither filters.Dither
	pool   texel.ScratchPool
}

func newPipeline(cfg Config, log *slog.Logger) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	axes, _ := parseAxes(cfg.Axes)
	dither, _ := cfg.dither()
	return &pipeline{cfg: cfg, log: log, axes: axes, dither: dither}, nil
}

// formats returns the input, summed and restored texel formats.
func (p *pipeline) formats() (in, sum, restored texel.Format) {
	in, sum = texel.R16G16B16A16Unorm, texel.R32G32B32A32Sfloat
	if p.cfg.Float64 {
		sum = texel.R64G64B64A64Sfloat
	}
	if p.cfg.Luminance {
		in, sum = texel.R16Unorm, texel.R32Sfloat
		if p.cfg.Float64 {
			sum = texel.R64Sfloat
		}
	}
	restored = in
	if p.cfg.Normalize {
		// Normalized sums restore to values far below one quantization step.
		restored = sum
	}
	return in, sum, restored
}

// Run processes the image at path and returns the paths of the files written.
func (p *pipeline) Run(path string) (outputs []string, err error) {
	start := time.Now()
	log := p.log.With("input", path)
	decoded, err := loadImage(path)
	if err != nil {
		return nil, err
	}
	src, err := texel.FromImage(decoded, texel.R16G16B16A16Unorm)
	if err != nil {
		return nil, err
	}
	inFormat, sumFormat, restoredFormat := p.formats()
	level := p.cfg.MipLevel
	ext := src.MipExtent(0)
	log.Info("loaded image", "extent", ext, "mip", level, "sum_format", sumFormat)

	input, err := texel.NewPackedImage(texel.CreateParams{
		Format:      inFormat,
		Extent:      ext,
		ArrayLayers: 1,
		MipLevels:   level + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("mip level %d of %v: %w", level, ext, err)
	}
	if err := p.fill(src, input); err != nil {
		return nil, err
	}

	sum, err := p.sumImage(sumFormat, ext)
	if err != nil {
		return nil, err
	}
	mipExt := input.MipExtent(level)
	ss := &filters.SumState{
		State: filters.State{
			In:          input,
			Out:         sum,
			InMipLevel:  level,
			OutMipLevel: level,
			LayerCount:  1,
		},
		Extent:    mipExt,
		Axes:      p.axes,
		Mode:      p.cfg.sumMode(),
		Normalize: p.cfg.Normalize,
	}
	if err := execute(p, "sum", filters.Filter[filters.SumState](filters.SummedAreaTable{}), ss, &ss.State); err != nil {
		return nil, err
	}

	if p.cfg.ExclusiveSum {
		log.Warn("exclusive sums restore the input shifted by one texel along each summed axis")
	}
	restored, err := texel.NewPackedImage(texel.CreateParams{
		Format:      restoredFormat,
		Extent:      mipExt,
		ArrayLayers: 1,
		MipLevels:   1,
	})
	if err != nil {
		return nil, err
	}
	cs := &filters.ConvolveState{
		State: filters.State{
			In:         sum,
			Out:        restored,
			InMipLevel: level,
			LayerCount: 1,
		},
		InExtent:  mipExt,
		OutExtent: mipExt,
		Dither:    p.dither,
	}
	diff := filters.NewDiscreteDifference(p.axes)
	if err := execute(p, "difference", filters.Filter[filters.ConvolveState](diff), cs, &cs.State); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := func(suffix, ext string) string {
		return filepath.Join(p.cfg.OutputDir, base+"_"+suffix+"."+ext)
	}
	if err := p.write(sum, level, 1/maxValue(sum, level), name("sat", p.cfg.OutputFormat)); err != nil {
		return outputs, err
	}
	outputs = append(outputs, name("sat", p.cfg.OutputFormat))
	scale := 1.0
	if p.cfg.Normalize {
		scale = 1 / maxValue(restored, 0)
	}
	if err := p.write(restored, 0, scale, name("restored", p.cfg.OutputFormat)); err != nil {
		return outputs, err
	}
	outputs = append(outputs, name("restored", p.cfg.OutputFormat))
	if p.cfg.WriteRaw {
		if err := writeRaw(sum, name("sat", "raw")); err != nil {
			return outputs, err
		}
		outputs = append(outputs, name("sat", "raw"))
	}
	log.Info("done", "outputs", len(outputs), "elapsed", time.Since(start))
	return outputs, nil
}

// fill copies src into mip 0 of dst, converting to luminance if configured,
// then downsamples each following mip level from the previous one.
func (p *pipeline) fill(src, dst *texel.Image) error {
	copyFilter := &filters.PointFilter{Fn: func(dst, src []float64) { copy(dst, src) }}
	if p.cfg.Luminance {
		copyFilter = filters.NewGrayscale(filters.GrayscaleLuminance)
	}
	ps := &filters.PointState{
		State:  filters.State{In: src, Out: dst, LayerCount: 1},
		Extent: src.MipExtent(0),
		Dither: p.dither,
	}
	if err := execute(p, "copy", filters.Filter[filters.PointState](copyFilter), ps, &ps.State); err != nil {
		return err
	}
	box := &filters.Convolution{}
	for level := 1; level < dst.Params().MipLevels; level++ {
		cs := &filters.ConvolveState{
			State: filters.State{
				In:          dst,
				Out:         dst,
				InMipLevel:  level - 1,
				OutMipLevel: level,
				LayerCount:  1,
			},
			InExtent:  dst.MipExtent(level - 1),
			OutExtent: dst.MipExtent(level),
			Dither:    p.dither,
		}
		if err := execute(p, "downsample", filters.Filter[filters.ConvolveState](box), cs, &cs.State); err != nil {
			return fmt.Errorf("mip %d: %w", level, err)
		}
	}
	return nil
}

// sumImage creates the summed area table image. It is either a packed mip
// chain or a single region at the configured mip level, optionally with a
// second region aliasing the middle of the first.
func (p *pipeline) sumImage(f texel.Format, ext texel.Extent) (*texel.Image, error) {
	level := p.cfg.MipLevel
	params := texel.CreateParams{Format: f, Extent: ext, ArrayLayers: 1, MipLevels: level + 1}
	mipExt := texel.MipExtent(ext, level)
	var img *texel.Image
	var err error
	if p.cfg.UseImageView {
		img, err = texel.NewPackedImage(params)
	} else {
		info := f.BlockInfo()
		img, err = texel.NewImage(params, make([]byte, info.ByteSize(mipExt)), []texel.Region{
			{MipLevel: level, LayerCount: 1, ImageExtent: mipExt},
		})
	}
	if err != nil || !p.cfg.UseOverlappingRegions {
		return img, err
	}
	regions := img.Regions()
	full := regions[img.RegionsAt(level)[0]]
	inner := texel.Region{
		MipLevel:          level,
		LayerCount:        1,
		BufferRowLength:   mipExt.Width,
		BufferImageHeight: mipExt.Height,
		ImageOffset:       texel.Offset{X: mipExt.Width / 4, Y: mipExt.Height / 4},
		ImageExtent: texel.Extent{
			Width:  max(mipExt.Width/2, 1),
			Height: max(mipExt.Height/2, 1),
			Depth:  mipExt.Depth,
		},
	}
	inner.BufferOffset = full.ByteOffset(inner.ImageOffset, 0, full.ByteStrides(img.BlockInfo()))
	params.AllowOverlappingRegions = true
	p.log.Debug("overlapping regions", "full", full.ImageExtent, "inner", inner.ImageExtent, "offset", inner.BufferOffset)
	return img.WithRegions(params, append(regions, inner))
}

// execute runs f with scratch memory borrowed from the pipeline's pool.
func execute[S any](p *pipeline, name string, f filters.Filter[S], s *S, st *filters.State) error {
	n := f.RequiredScratchBytes(s)
	st.Scratch = p.pool.Get(n)
	defer func() {
		p.pool.Put(st.Scratch)
		st.Scratch = nil
	}()
	start := time.Now()
	err := f.Execute(p.cfg.policy(), s)
	if err != nil {
		return fmt.Errorf("%s filter: %w", name, err)
	}
	p.log.Debug("filter executed", "filter", name, "scratch_bytes", n, "elapsed", time.Since(start))
	return nil
}

// maxValue returns the largest channel value of the first layer at mip, or 1
// if no texel is positive.
func maxValue(img *texel.Image, mip int) float64 {
	ext := img.MipExtent(mip)
	nch := img.Format().Channels()
	v := make([]float64, 4)
	m := 0.0
	for y := range ext.Height {
		for x := range ext.Width {
			if !img.Texel(mip, 0, texel.Offset{X: x, Y: y}, v) {
				continue
			}
			for _, c := range v[:min(nch, 3)] {
				m = max(m, c)
			}
		}
	}
	if !(m > 0) {
		return 1
	}
	return m
}

func loadImage(path string) (image.Image, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	img, format, err := image.Decode(fp)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if format == "" {
		return nil, errors.New("unknown image format")
	}
	return img, nil
}

func (p *pipeline) write(img *texel.Image, mip int, scale float64, path string) (err error) {
	out, err := img.ToNRGBA64(mip, 0, scale)
	if err != nil {
		return err
	}
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fp.Close(); err == nil {
			err = cerr
		}
	}()
	switch p.cfg.OutputFormat {
	case "tiff":
		err = tiff.Encode(fp, out, &tiff.Options{Compression: tiff.Deflate})
	case "bmp":
		err = bmp.Encode(fp, out)
	default:
		err = png.Encode(fp, out)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	p.log.Debug("wrote image", "path", path, "scale", scale)
	return nil
}

// writeRaw dumps the whole buffer of img, all regions included.
func writeRaw(img *texel.Image, path string) (err error) {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fp.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(fp, io.NewSectionReader(img, 0, int64(len(img.Buffer()))))
	return err
}
