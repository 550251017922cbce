package filters

import (
	"errors"
	"fmt"

	"github.com/soypat/texel"
)

var errNilPointFunc = errors.New("nil PointFunc")

// PointFunc transforms a single decoded texel. src holds the input channels
// and dst has room for the output format's channels.
// It is called concurrently for distinct texels and must not retain its arguments.
type PointFunc func(dst, src []float64)

// PointState configures one [PointFilter] invocation.
type PointState struct {
	State
	// Extent of the processed box, identical in the input and output images.
	Extent texel.Extent
	Dither Dither
}

// PointFilter applies a per-texel transformation using a callback function.
// It handles region traversal, format conversion and quantization common to
// every per-texel filter.
type PointFilter struct {
	Fn    PointFunc
	Ctrls []texel.Control // User-defined controls for this filter.
}

var _ Filter[PointState] = (*PointFilter)(nil)

// Controls returns the editable parameters of the filter.
func (f *PointFilter) Controls() []texel.Control {
	return f.Ctrls
}

// RequiredScratchBytes implements [Filter].
func (f *PointFilter) RequiredScratchBytes(s *PointState) int {
	if s.Out == nil || s.LayerCount <= 0 || s.Extent.Empty() {
		return 0
	}
	return s.Extent.Volume() * s.LayerCount * s.Out.Format().Channels() * 8
}

// Execute implements [Filter].
func (f *PointFilter) Execute(policy Policy, s *PointState) error {
	if f.Fn == nil {
		return errNilPointFunc
	} else if s == nil {
		return ErrNilImage
	}
	if err := s.State.validate(s.Extent, s.Extent); err != nil {
		return err
	}
	scratch, err := s.scratchFloats(f.RequiredScratchBytes(s) / 8)
	if err != nil || s.Extent.Empty() {
		return err
	}
	workers := policy.workers()
	outCh := s.Out.Format().Channels()
	if outCh > 4 {
		return fmt.Errorf("%w: %v", ErrFormat, s.Out.Format())
	}
	src := block{off: s.InOffset, ext: s.Extent, layer: s.InBaseLayer, layers: s.LayerCount, nch: outCh}
	gather(workers, s.In, s.InMipLevel, src, scratch, channelMap(f.Fn))
	dst := src
	dst.off, dst.layer = s.OutOffset, s.OutBaseLayer
	scatter(workers, s.Out, s.Out.RegionsAt(s.OutMipLevel), s.OutMipLevel, dst, scratch, s.Dither)
	return nil
}

// GrayscaleMode determines the algorithm for RGB to grayscale conversion.
type GrayscaleMode int

const (
	// GrayscaleLuminance uses standard luminance weights: 0.299*R + 0.587*G + 0.114*B
	GrayscaleLuminance GrayscaleMode = iota
	// GrayscaleAverage uses simple average: (R + G + B) / 3
	GrayscaleAverage
	// GrayscaleLightness uses min/max average: (max(R,G,B) + min(R,G,B)) / 2
	GrayscaleLightness
)

func (m GrayscaleMode) String() string {
	switch m {
	case GrayscaleLuminance:
		return "Luminance"
	case GrayscaleAverage:
		return "Average"
	case GrayscaleLightness:
		return "Lightness"
	default:
		return "Unknown"
	}
}

// NewGrayscale creates a filter writing the gray level of RGB input texels to
// every color channel of the output. Alpha is copied when the output has 4
// channels, or set opaque if the input has none. Single channel inputs are
// passed through. Building a CDF of luminance starts by running this into a
// single channel image.
func NewGrayscale(mode GrayscaleMode) *PointFilter {
	filterMode := mode
	return &PointFilter{
		Fn: func(dst, src []float64) {
			gray, alpha := src[0], 1.0
			if len(src) >= 3 {
				r, g, b := src[0], src[1], src[2]
				switch filterMode {
				case GrayscaleAverage:
					gray = (r + g + b) / 3
				case GrayscaleLightness:
					gray = (min(r, g, b) + max(r, g, b)) / 2
				default: // GrayscaleLuminance
					gray = 0.299*r + 0.587*g + 0.114*b
				}
			}
			if len(src) == 4 {
				alpha = src[3]
			}
			for c := range min(len(dst), 3) {
				dst[c] = gray
			}
			if len(dst) == 4 {
				dst[3] = alpha
			}
		},
		Ctrls: []texel.Control{
			&texel.ControlEnum[GrayscaleMode]{
				Name:        "Conversion Mode",
				Description: "Algorithm for RGB to grayscale conversion",
				Value:       filterMode,
				ValidValues: []GrayscaleMode{GrayscaleLuminance, GrayscaleAverage, GrayscaleLightness},
				OnChange: func(m GrayscaleMode) error {
					filterMode = m // Closure will assign and Fn above pick up.
					return nil
				},
			},
		},
	}
}

// NewInvert creates a filter that inverts normalized color channels, v -> 1-v.
// The alpha channel of 4 channel outputs is preserved.
func NewInvert() *PointFilter {
	return &PointFilter{
		Fn: func(dst, src []float64) {
			for c := range dst {
				v := 0.0
				if c < len(src) {
					v = src[c]
				}
				if c == 3 {
					if c >= len(src) {
						v = 1
					}
					dst[c] = v
					continue
				}
				dst[c] = 1 - v
			}
		},
	}
}
