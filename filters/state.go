// Package filters runs CPU filters over texel images: summed area tables,
// separable convolution and per-texel point filters. Filters never allocate
// their working memory; callers size it with RequiredScratchBytes.
package filters

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/soypat/texel"
	"github.com/soypat/texel/internal/parallel"
)

var (
	ErrNilImage     = errors.New("nil input or output image")
	ErrFormat       = errors.New("unsupported or incompatible format")
	ErrOutOfBounds  = errors.New("sub-rectangle or layer range out of bounds")
	ErrScratchSize  = errors.New("scratch memory smaller than required")
	ErrScratchAlign = errors.New("scratch memory not aligned to 8 bytes")
	ErrAxes         = errors.New("invalid axis selection")
	ErrKernel       = errors.New("invalid kernel")
	ErrChannels     = errors.New("channel count mismatch not covered by swizzle")
)

// Filter is implemented by every filter of this package. S is the filter's state type.
type Filter[S any] interface {
	// RequiredScratchBytes returns the scratch size Execute needs for state.
	// It depends only on the geometry of state, never on texel values.
	RequiredScratchBytes(state *S) int
	// Execute runs the filter. On error the output region contents are undefined.
	Execute(policy Policy, state *S) error
}

// Policy declares how a filter may schedule its work.
type Policy int

const (
	// Sequential runs every pass on the calling goroutine.
	Sequential Policy = iota
	// ParallelUnordered partitions independent scanlines, slices, channels and
	// layers across GOMAXPROCS goroutines in no particular order.
	ParallelUnordered
)

func (p Policy) String() string {
	switch p {
	case Sequential:
		return "sequential"
	case ParallelUnordered:
		return "parallel-unordered"
	}
	return "unknown"
}

func (p Policy) workers() int {
	if p == ParallelUnordered {
		return 0
	}
	return 1
}

// State holds the image geometry shared by every filter invocation.
// Images and scratch are borrowed for the duration of one Execute call;
// the caller must not read Out or reuse Scratch until Execute returns.
type State struct {
	In          *texel.Image
	Out         *texel.Image
	InMipLevel  int
	OutMipLevel int
	InOffset    texel.Offset
	OutOffset   texel.Offset
	InBaseLayer int
	// OutBaseLayer is the first output layer written. Input layer InBaseLayer+i
	// maps to output layer OutBaseLayer+i.
	OutBaseLayer int
	LayerCount   int
	// Scratch is caller owned temporary memory of at least the size returned by
	// the filter's RequiredScratchBytes. Use [texel.AllocScratch] or a [texel.ScratchPool].
	Scratch []byte
}

// validate checks images, mip levels, layers and the input/output boxes.
func (s *State) validate(inExt, outExt texel.Extent) error {
	if s.In == nil || s.Out == nil {
		return ErrNilImage
	}
	in, out := s.In.Params(), s.Out.Params()
	if in.Format.IsCompressed() || out.Format.IsCompressed() {
		return fmt.Errorf("%w: compressed formats not supported", ErrFormat)
	}
	if s.LayerCount <= 0 {
		return fmt.Errorf("%w: layer count %d", ErrOutOfBounds, s.LayerCount)
	}
	if s.InMipLevel < 0 || s.InMipLevel >= in.MipLevels {
		return fmt.Errorf("%w: input mip level %d", ErrOutOfBounds, s.InMipLevel)
	} else if s.OutMipLevel < 0 || s.OutMipLevel >= out.MipLevels {
		return fmt.Errorf("%w: output mip level %d", ErrOutOfBounds, s.OutMipLevel)
	}
	if s.InBaseLayer < 0 || s.InBaseLayer+s.LayerCount > in.ArrayLayers {
		return fmt.Errorf("%w: input layers [%d,%d)", ErrOutOfBounds, s.InBaseLayer, s.InBaseLayer+s.LayerCount)
	} else if s.OutBaseLayer < 0 || s.OutBaseLayer+s.LayerCount > out.ArrayLayers {
		return fmt.Errorf("%w: output layers [%d,%d)", ErrOutOfBounds, s.OutBaseLayer, s.OutBaseLayer+s.LayerCount)
	}
	if !boxInside(s.InOffset, inExt, s.In.MipExtent(s.InMipLevel)) {
		return fmt.Errorf("%w: input box %v+%v", ErrOutOfBounds, s.InOffset, inExt)
	} else if !boxInside(s.OutOffset, outExt, s.Out.MipExtent(s.OutMipLevel)) {
		return fmt.Errorf("%w: output box %v+%v", ErrOutOfBounds, s.OutOffset, outExt)
	}
	return nil
}

// scratchFloats checks the scratch block and returns its first n float64s.
func (s *State) scratchFloats(n int) ([]float64, error) {
	if len(s.Scratch) < n*8 {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrScratchSize, len(s.Scratch), n*8)
	} else if n == 0 {
		return nil, nil
	}
	ptr := unsafe.SliceData(s.Scratch)
	if uintptr(unsafe.Pointer(ptr))%8 != 0 {
		return nil, ErrScratchAlign
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(ptr)), n), nil
}

func boxInside(off texel.Offset, ext, bound texel.Extent) bool {
	if off.X < 0 || off.Y < 0 || off.Z < 0 || ext.Width < 0 || ext.Height < 0 || ext.Depth < 0 {
		return false
	}
	end := off.Max(ext)
	return end.X <= bound.Width && end.Y <= bound.Height && end.Z <= bound.Depth
}

// block is a box of texels over a range of layers stored densely as float64
// channels in x, y, z, layer order (x fastest).
type block struct {
	off    texel.Offset
	ext    texel.Extent
	layer  int
	layers int
	nch    int
}

func (b block) texels() int { return b.ext.Volume() * b.layers }

func (b block) len() int { return b.texels() * b.nch }

// index returns the position of the first channel of texel p of layer,
// both in image coordinates.
func (b block) index(p texel.Offset, layer int) int {
	l := p.Sub(b.off)
	return ((((layer-b.layer)*b.ext.Depth+l.Z)*b.ext.Height+l.Y)*b.ext.Width + l.X) * b.nch
}

// channelMap converts a decoded source texel, one value per channel of the
// source format, to block channels.
type channelMap func(dst, src []float64)

// gather zeroes dst and fills it with the texels of src read from img at mip
// level. Texels addressed by several regions take the value of the last one.
func gather(workers int, img *texel.Image, mip int, src block, dst []float64, mapCh channelMap) {
	clear(dst)
	format := img.Format()
	inCh := format.Channels()
	info := img.BlockInfo()
	buf := img.Buffer()
	for _, ri := range img.RegionsAt(mip) {
		r := img.Region(ri)
		off, ext, ok := texel.Intersect(r.ImageOffset, r.ImageExtent, src.off, src.ext)
		l0 := max(r.BaseLayer, src.layer)
		l1 := min(r.BaseLayer+r.LayerCount, src.layer+src.layers)
		if !ok || l0 >= l1 {
			continue
		}
		strides := r.ByteStrides(info)
		rows := (l1 - l0) * ext.Depth * ext.Height
		parallel.For(workers, rows, func(start, end int) {
			var tmp [4]float64
			for row := start; row < end; row++ {
				y := off.Y + row%ext.Height
				z := off.Z + row/ext.Height%ext.Depth
				layer := l0 + row/(ext.Height*ext.Depth)
				for x := off.X; x < off.X+ext.Width; x++ {
					p := texel.Offset{X: x, Y: y, Z: z}
					boff := r.ByteOffset(p, layer, strides)
					di := src.index(p, layer)
					if mapCh == nil {
						format.DecodeTexel(dst[di:di+src.nch], buf[boff:boff+strides.Texel])
						continue
					}
					format.DecodeTexel(tmp[:], buf[boff:boff+strides.Texel])
					mapCh(dst[di:di+src.nch], tmp[:inCh])
				}
			}
		})
	}
}

// scatter encodes the texels of src into the listed regions of img at mip level.
// Regions are written one after another so overlapping regions end up holding
// the values of the last one listed.
func scatter(workers int, img *texel.Image, regions []int, mip int, dst block, src []float64, dither Dither) {
	format := img.Format()
	info := img.BlockInfo()
	buf := img.Buffer()
	if format.IsFloat() {
		dither = nil
	}
	for _, ri := range regions {
		r := img.Region(ri)
		if r.MipLevel != mip {
			continue
		}
		off, ext, ok := texel.Intersect(r.ImageOffset, r.ImageExtent, dst.off, dst.ext)
		l0 := max(r.BaseLayer, dst.layer)
		l1 := min(r.BaseLayer+r.LayerCount, dst.layer+dst.layers)
		if !ok || l0 >= l1 {
			continue
		}
		strides := r.ByteStrides(info)
		rows := (l1 - l0) * ext.Depth * ext.Height
		parallel.For(workers, rows, func(start, end int) {
			var offsets [4]float64
			var d []float64
			for row := start; row < end; row++ {
				y := off.Y + row%ext.Height
				z := off.Z + row/ext.Height%ext.Depth
				layer := l0 + row/(ext.Height*ext.Depth)
				for x := off.X; x < off.X+ext.Width; x++ {
					p := texel.Offset{X: x, Y: y, Z: z}
					if dither != nil {
						for c := range dst.nch {
							offsets[c] = dither.Offset(p, layer, c)
						}
						d = offsets[:dst.nch]
					}
					boff := r.ByteOffset(p, layer, strides)
					si := dst.index(p, layer)
					format.EncodeTexel(buf[boff:boff+strides.Texel], src[si:si+dst.nch], d)
				}
			}
		})
	}
}
