package filters

import (
	"github.com/soypat/texel"
)

// Dither offsets values before they are quantized to an integer output format
// so quantization error shows up as noise instead of banding.
// Offset must be a pure function of its arguments.
type Dither interface {
	// Offset returns the offset to add to channel of texel p of layer,
	// in units of one quantization step, within [-0.5, 0.5].
	Offset(p texel.Offset, layer, channel int) float64
}

// WhiteNoise dithers with uniformly distributed noise derived from a hash of
// the texel position, layer, channel and Seed. Results do not depend on the
// order texels are visited in.
type WhiteNoise struct {
	Seed uint64
	// Amplitude scales the noise; 1 spans a full quantization step.
	Amplitude float64
}

// NewWhiteNoise returns full amplitude white noise dithering.
func NewWhiteNoise(seed uint64) *WhiteNoise {
	return &WhiteNoise{Seed: seed, Amplitude: 1}
}

func (w *WhiteNoise) Offset(p texel.Offset, layer, channel int) float64 {
	h := w.Seed
	for _, v := range [5]int{p.X, p.Y, p.Z, layer, channel} {
		h = splitmix64(h ^ uint64(v))
	}
	u := float64(h>>11) / (1 << 53) // [0,1)
	return (u - 0.5) * w.Amplitude
}

// Controls returns the editable amplitude of the noise.
func (w *WhiteNoise) Controls() []texel.Control {
	return []texel.Control{
		&texel.ControlOrdered[float64]{
			Name:        "Amplitude",
			Description: "Noise amplitude in quantization steps",
			Value:       w.Amplitude,
			Min:         0,
			Max:         1,
			Step:        0.05,
			OnChange: func(v float64) error {
				w.Amplitude = v
				return nil
			},
		},
	}
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Ordered dithers with an 8x8 Bayer threshold matrix tiled over X and Y.
type Ordered struct{}

var bayer8 = [8][8]uint8{
	{0, 32, 8, 40, 2, 34, 10, 42},
	{48, 16, 56, 24, 50, 18, 58, 26},
	{12, 44, 4, 36, 14, 46, 6, 38},
	{60, 28, 52, 20, 62, 30, 54, 22},
	{3, 35, 11, 43, 1, 33, 9, 41},
	{51, 19, 59, 27, 49, 17, 57, 25},
	{15, 47, 7, 39, 13, 45, 5, 37},
	{63, 31, 55, 23, 61, 29, 53, 21},
}

func (Ordered) Offset(p texel.Offset, _, _ int) float64 {
	return (float64(bayer8[p.Y&7][p.X&7])+0.5)/64 - 0.5
}
