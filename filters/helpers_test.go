package filters

import (
	"math/rand"
	"testing"

	"github.com/soypat/texel"
	"github.com/stretchr/testify/require"
)

func newImage(t *testing.T, f texel.Format, ext texel.Extent, layers, mips int) *texel.Image {
	t.Helper()
	img, err := texel.NewPackedImage(texel.CreateParams{
		Format:      f,
		Extent:      ext,
		ArrayLayers: layers,
		MipLevels:   mips,
	})
	require.NoError(t, err)
	return img
}

// fill sets every texel of mip level of every layer of img to fn's result.
func fill(t *testing.T, img *texel.Image, mip int, fn func(p texel.Offset, layer int) []float64) {
	t.Helper()
	ext := img.MipExtent(mip)
	for layer := range img.Params().ArrayLayers {
		for z := range ext.Depth {
			for y := range ext.Height {
				for x := range ext.Width {
					p := texel.Offset{X: x, Y: y, Z: z}
					require.True(t, img.SetTexel(mip, layer, p, fn(p, layer)))
				}
			}
		}
	}
}

func extent(w, h, d int) texel.Extent {
	return texel.Extent{Width: w, Height: h, Depth: d}
}

func constant(v ...float64) func(texel.Offset, int) []float64 {
	return func(texel.Offset, int) []float64 { return v }
}

func texelAt(t *testing.T, img *texel.Image, mip, layer int, p texel.Offset) []float64 {
	t.Helper()
	v := make([]float64, 4)
	require.True(t, img.Texel(mip, layer, p, v), "texel %v layer %d not covered", p, layer)
	return v[:img.Format().Channels()]
}

// row1D reads the first channel of the x-row at y=0 of layer 0.
func row1D(t *testing.T, img *texel.Image) []float64 {
	t.Helper()
	w := img.MipExtent(0).Width
	got := make([]float64, w)
	for x := range w {
		got[x] = texelAt(t, img, 0, 0, texel.Offset{X: x})[0]
	}
	return got
}

func image1D(t *testing.T, f texel.Format, values []float64) *texel.Image {
	t.Helper()
	img := newImage(t, f, extent(len(values), 1, 1), 1, 1)
	fill(t, img, 0, func(p texel.Offset, _ int) []float64 { return []float64{values[p.X]} })
	return img
}

func randomInts(rng *rand.Rand, n, maxv int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = float64(rng.Intn(maxv))
	}
	return v
}

func sumState(in, out *texel.Image, ext texel.Extent, axes AxisMask, mode SumMode) *SumState {
	s := &SumState{
		State: State{
			In:         in,
			Out:        out,
			LayerCount: in.Params().ArrayLayers,
		},
		Extent: ext,
		Axes:   axes,
		Mode:   mode,
	}
	return s
}

func runSum(t *testing.T, policy Policy, s *SumState) {
	t.Helper()
	var f SummedAreaTable
	s.Scratch = texel.AllocScratch(f.RequiredScratchBytes(s))
	require.NoError(t, f.Execute(policy, s))
}

func convolveState(in, out *texel.Image) *ConvolveState {
	return &ConvolveState{
		State: State{
			In:         in,
			Out:        out,
			LayerCount: in.Params().ArrayLayers,
		},
		InExtent:  in.MipExtent(0),
		OutExtent: out.MipExtent(0),
	}
}

func runConvolve(t *testing.T, f *Convolution, policy Policy, s *ConvolveState) {
	t.Helper()
	s.Scratch = texel.AllocScratch(f.RequiredScratchBytes(s))
	require.NoError(t, f.Execute(policy, s))
}
