package filters

import (
	"image"
	"math/rand"
	"testing"

	"github.com/soypat/texel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomSquaresRGBA creates an RGBA image with random colored squares on a black background.
func randomSquaresRGBA(rng *rand.Rand, width, height, numSquares, minSize, maxSize int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	for range numSquares {
		size := minSize + rng.Intn(maxSize-minSize+1)
		x0, y0 := rng.Intn(width), rng.Intn(height)
		r := uint8(64 + rng.Intn(192))
		g := uint8(64 + rng.Intn(192))
		b := uint8(64 + rng.Intn(192))
		for y := y0; y < min(y0+size, height); y++ {
			for x := x0; x < min(x0+size, width); x++ {
				idx := y*img.Stride + x*4
				copy(img.Pix[idx:idx+4], []uint8{r, g, b, 255})
			}
		}
	}
	return img
}

func runPoint(t *testing.T, f *PointFilter, in, out *texel.Image) {
	t.Helper()
	s := &PointState{
		State:  State{In: in, Out: out, LayerCount: 1},
		Extent: in.MipExtent(0),
	}
	s.Scratch = texel.AllocScratch(f.RequiredScratchBytes(s))
	require.NoError(t, f.Execute(ParallelUnordered, s))
}

func TestGrayscale(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	src := randomSquaresRGBA(rng, 64, 48, 20, 4, 16)
	in, err := texel.FromImage(src, texel.R8G8B8A8Unorm)
	require.NoError(t, err)

	for _, mode := range []GrayscaleMode{GrayscaleLuminance, GrayscaleAverage, GrayscaleLightness} {
		out := newImage(t, texel.R8G8B8A8Unorm, in.MipExtent(0), 1, 1)
		runPoint(t, NewGrayscale(mode), in, out)
		pix := out.Buffer()
		for i := 0; i < len(pix); i += 4 {
			if pix[i] != pix[i+1] || pix[i+1] != pix[i+2] {
				t.Fatalf("%v: texel %d not gray: %v", mode, i/4, pix[i:i+4])
			}
			require.Equal(t, uint8(255), pix[i+3])
		}
	}
}

func TestGrayscaleModes(t *testing.T) {
	in := newImage(t, texel.R32G32B32A32Sfloat, extent(1, 1, 1), 1, 1)
	fill(t, in, 0, constant(0.2, 0.5, 1, 0.25))
	want := map[GrayscaleMode]float64{
		GrayscaleLuminance: 0.299*0.2 + 0.587*0.5 + 0.114,
		GrayscaleAverage:   1.7 / 3,
		GrayscaleLightness: 0.6,
	}
	f := NewGrayscale(GrayscaleLuminance)
	ctrl := f.Controls()[0]
	for mode, gray := range want {
		require.NoError(t, ctrl.ChangeValue(mode))
		out := newImage(t, texel.R64G64B64A64Sfloat, extent(1, 1, 1), 1, 1)
		runPoint(t, f, in, out)
		assert.InDeltaSlice(t, []float64{gray, gray, gray, 0.25}, texelAt(t, out, 0, 0, texel.Offset{}), 1e-6, "%v", mode)
	}
	assert.Error(t, ctrl.ChangeValue(GrayscaleMode(9)))
}

func TestGrayscaleToSingleChannel(t *testing.T) {
	in := newImage(t, texel.R16G16B16A16Unorm, extent(2, 2, 1), 1, 1)
	fill(t, in, 0, constant(1, 1, 1, 0.5))
	out := newImage(t, texel.R32Sfloat, extent(2, 2, 1), 1, 1)
	runPoint(t, NewGrayscale(GrayscaleAverage), in, out)
	assert.InDelta(t, 1, texelAt(t, out, 0, 0, texel.Offset{X: 1, Y: 1})[0], 1e-6)

	// Single channel inputs pass through and gain an opaque alpha.
	back := newImage(t, texel.R8G8B8A8Unorm, extent(2, 2, 1), 1, 1)
	runPoint(t, NewGrayscale(GrayscaleLuminance), out, back)
	assert.Equal(t, []float64{1, 1, 1, 1}, texelAt(t, back, 0, 0, texel.Offset{}))
}

func TestInvert(t *testing.T) {
	rng := rand.New(rand.NewSource(777))
	src := randomSquaresRGBA(rng, 32, 32, 15, 4, 12)
	in, err := texel.FromImage(src, texel.R8G8B8A8Unorm)
	require.NoError(t, err)

	inverted := newImage(t, texel.R8G8B8A8Unorm, in.MipExtent(0), 1, 1)
	runPoint(t, NewInvert(), in, inverted)
	got, want := inverted.Buffer(), in.Buffer()
	for i := range got {
		if i%4 == 3 {
			require.Equal(t, want[i], got[i], "alpha of texel %d", i/4)
			continue
		}
		require.Equal(t, 255-want[i], got[i], "byte %d", i)
	}

	restored := newImage(t, texel.R8G8B8A8Unorm, in.MipExtent(0), 1, 1)
	runPoint(t, NewInvert(), inverted, restored)
	assert.Equal(t, in.Buffer(), restored.Buffer())
}

func TestPointFilterErrors(t *testing.T) {
	in := newImage(t, texel.R8Unorm, extent(4, 4, 1), 1, 1)
	out := newImage(t, texel.R8Unorm, extent(4, 4, 1), 1, 1)
	s := &PointState{State: State{In: in, Out: out, LayerCount: 1}, Extent: extent(4, 4, 1)}

	var empty PointFilter
	assert.Error(t, empty.Execute(Sequential, s))
	f := NewInvert()
	assert.ErrorIs(t, f.Execute(Sequential, nil), ErrNilImage)
	assert.ErrorIs(t, f.Execute(Sequential, s), ErrScratchSize)
	s.Extent = extent(5, 4, 1)
	assert.ErrorIs(t, f.Execute(Sequential, s), ErrOutOfBounds)
}
