package filters

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/soypat/texel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumAllOnes4x4(t *testing.T) {
	in := newImage(t, texel.R32Sfloat, extent(4, 4, 1), 1, 1)
	fill(t, in, 0, constant(1))
	out := newImage(t, texel.R32Sfloat, extent(4, 4, 1), 1, 1)

	runSum(t, ParallelUnordered, sumState(in, out, extent(4, 4, 1), AxisX|AxisY, Inclusive))

	assert.Equal(t, 16.0, texelAt(t, out, 0, 0, texel.Offset{X: 3, Y: 3})[0])
	assert.Equal(t, 1.0, texelAt(t, out, 0, 0, texel.Offset{X: 0, Y: 0})[0])
	assert.Equal(t, 4.0, texelAt(t, out, 0, 0, texel.Offset{X: 3, Y: 0})[0])
	assert.Equal(t, 6.0, texelAt(t, out, 0, 0, texel.Offset{X: 2, Y: 1})[0])
}

func TestSumExclusive1D(t *testing.T) {
	in := image1D(t, texel.R32Sfloat, []float64{1, 2, 3, 4})
	out := newImage(t, texel.R32Sfloat, extent(4, 1, 1), 1, 1)
	runSum(t, Sequential, sumState(in, out, extent(4, 1, 1), AxisX, Exclusive))
	assert.Equal(t, []float64{0, 1, 3, 6}, row1D(t, out))

	runSum(t, Sequential, sumState(in, out, extent(4, 1, 1), AxisX, Inclusive))
	assert.Equal(t, []float64{1, 3, 6, 10}, row1D(t, out))
}

func TestSumPrefixProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 2, 5, 31, 64, 257} {
		values := randomInts(rng, n, 100)
		in := image1D(t, texel.R64Sfloat, values)
		for _, mode := range []SumMode{Inclusive, Exclusive} {
			out := newImage(t, texel.R64Sfloat, extent(n, 1, 1), 1, 1)
			runSum(t, ParallelUnordered, sumState(in, out, extent(n, 1, 1), AxisX, mode))
			got := row1D(t, out)
			acc := 0.0
			for i, v := range values {
				if mode == Inclusive {
					acc += v
				}
				require.Equal(t, acc, got[i], "n=%d mode=%v i=%d", n, mode, i)
				if mode == Exclusive {
					acc += v
				}
			}
		}
	}
}

func TestSumAxisOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	ext := extent(9, 7, 3)
	in := newImage(t, texel.R32G32B32A32Sfloat, ext, 2, 1)
	fill(t, in, 0, func(texel.Offset, int) []float64 {
		return randomInts(rng, 4, 50)
	})
	sumAxes := func(order ...AxisMask) *texel.Image {
		src := in
		for _, axis := range order {
			out := newImage(t, texel.R64G64B64A64Sfloat, ext, 2, 1)
			runSum(t, ParallelUnordered, sumState(src, out, ext, axis, Inclusive))
			src = out
		}
		return src
	}
	xy := sumAxes(AxisX, AxisY, AxisZ)
	yx := sumAxes(AxisZ, AxisY, AxisX)
	all := newImage(t, texel.R64G64B64A64Sfloat, ext, 2, 1)
	runSum(t, Sequential, sumState(in, all, ext, AxesAll, Inclusive))
	assert.Equal(t, xy.Buffer(), yx.Buffer())
	assert.Equal(t, xy.Buffer(), all.Buffer())
}

func TestSumNormalize(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ext := extent(13, 5, 2)
	in := newImage(t, texel.R16G16B16A16Sfloat, ext, 3, 1)
	fill(t, in, 0, func(_ texel.Offset, layer int) []float64 {
		scale := float64(layer*1000 + 1)
		return []float64{rng.Float64() * scale, rng.Float64(), 2, rng.Float64() * 0.01}
	})
	out := newImage(t, texel.R32G32B32A32Sfloat, ext, 3, 1)
	s := sumState(in, out, ext, AxesAll, Inclusive)
	s.Normalize = true
	runSum(t, ParallelUnordered, s)
	for layer := range 3 {
		corner := texelAt(t, out, 0, layer, texel.Offset{X: 12, Y: 4, Z: 1})
		for c, v := range corner {
			assert.InDelta(t, 1.0, v, 1e-6, "layer %d channel %d", layer, c)
		}
	}
}

func TestSumNormalizeZeroTotal(t *testing.T) {
	in := newImage(t, texel.R8Unorm, extent(4, 4, 1), 1, 1)
	out := newImage(t, texel.R32Sfloat, extent(4, 4, 1), 1, 1)
	fill(t, out, 0, constant(7))
	s := sumState(in, out, extent(4, 4, 1), AxesAll, Inclusive)
	s.Normalize = true
	runSum(t, Sequential, s)
	for _, b := range out.Buffer() {
		require.Zero(t, b)
	}
}

func TestSumNoAxesConvertsFormat(t *testing.T) {
	in := newImage(t, texel.R8G8B8A8Unorm, extent(3, 2, 1), 1, 1)
	fill(t, in, 0, constant(0, 1, 128.0/255, 51.0/255))
	out := newImage(t, texel.R32G32B32A32Sfloat, extent(3, 2, 1), 1, 1)
	runSum(t, Sequential, sumState(in, out, extent(3, 2, 1), 0, Exclusive))
	got := texelAt(t, out, 0, 0, texel.Offset{X: 2, Y: 1})
	assert.InDeltaSlice(t, []float64{0, 1, 128.0 / 255, 0.2}, got, 1e-7)
}

func TestSumZeroExtentNoop(t *testing.T) {
	in := newImage(t, texel.R32Sfloat, extent(4, 4, 1), 1, 1)
	out := newImage(t, texel.R32Sfloat, extent(4, 4, 1), 1, 1)
	var f SummedAreaTable
	s := sumState(in, out, extent(0, 4, 1), AxesAll, Inclusive)
	assert.Zero(t, f.RequiredScratchBytes(s))
	assert.NoError(t, f.Execute(Sequential, s))
}

func TestSumRegionScopes(t *testing.T) {
	// Two stacked 4x1 regions in one 4x2 image. Sums along Y restart per region.
	params := texel.CreateParams{Format: texel.R32Sfloat, Extent: extent(4, 2, 1), ArrayLayers: 1, MipLevels: 1}
	regions := []texel.Region{
		{LayerCount: 1, ImageExtent: extent(4, 1, 1)},
		{LayerCount: 1, BufferOffset: 16, ImageOffset: texel.Offset{Y: 1}, ImageExtent: extent(4, 1, 1)},
	}
	out, err := texel.NewImage(params, make([]byte, 32), regions)
	require.NoError(t, err)
	in := newImage(t, texel.R32Sfloat, extent(4, 2, 1), 1, 1)
	fill(t, in, 0, constant(1))

	runSum(t, ParallelUnordered, sumState(in, out, extent(4, 2, 1), AxisX|AxisY, Inclusive))
	for y := range 2 {
		for x := range 4 {
			assert.Equal(t, float64(x+1), texelAt(t, out, 0, 0, texel.Offset{X: x, Y: y})[0], "(%d,%d)", x, y)
		}
	}
}

func TestSumOverlappingRegions(t *testing.T) {
	const n = 8
	params := texel.CreateParams{
		Format:                  texel.R32Sfloat,
		Extent:                  extent(n, n, 1),
		ArrayLayers:             1,
		MipLevels:               1,
		AllowOverlappingRegions: true,
	}
	full := texel.Region{LayerCount: 1, ImageExtent: params.Extent}
	info := params.Format.BlockInfo()
	inner := texel.Region{
		LayerCount:        1,
		BufferRowLength:   n,
		BufferImageHeight: n,
		ImageOffset:       texel.Offset{X: n / 4, Y: n / 4},
		ImageExtent:       extent(n/2, n/2, 1),
	}
	inner.BufferOffset = full.ByteOffset(inner.ImageOffset, 0, full.ByteStrides(info))
	out, err := texel.NewImage(params, make([]byte, n*n*4), []texel.Region{full, inner})
	require.NoError(t, err)

	in := newImage(t, texel.R32Sfloat, extent(n, n, 1), 1, 1)
	fill(t, in, 0, constant(1))
	runSum(t, Sequential, sumState(in, out, extent(n, n, 1), AxisX|AxisY, Inclusive))

	// The inner region restarts its own sum and overwrites the shared bytes.
	assert.Equal(t, 1.0, texelAt(t, out, 0, 0, texel.Offset{X: 2, Y: 2})[0])
	assert.Equal(t, 16.0, texelAt(t, out, 0, 0, texel.Offset{X: 5, Y: 5})[0])
	assert.Equal(t, 3.0, texelAt(t, out, 0, 0, texel.Offset{X: 2, Y: 0})[0])
	assert.Equal(t, 64.0, texelAt(t, out, 0, 0, texel.Offset{X: 7, Y: 7})[0])
}

func TestSumOffsetsLayersAndMips(t *testing.T) {
	in := newImage(t, texel.R16Unorm, extent(8, 8, 1), 3, 2)
	fill(t, in, 1, func(p texel.Offset, layer int) []float64 {
		return []float64{float64(layer+1) / 65535}
	})
	out := newImage(t, texel.R64Sfloat, extent(6, 6, 1), 4, 1)
	s := &SumState{
		State: State{
			In:           in,
			Out:          out,
			InMipLevel:   1,
			InOffset:     texel.Offset{X: 1, Y: 1},
			OutOffset:    texel.Offset{X: 3, Y: 2},
			InBaseLayer:  1,
			OutBaseLayer: 2,
			LayerCount:   2,
		},
		Extent: extent(3, 3, 1),
		Axes:   AxisX | AxisY,
	}
	runSum(t, ParallelUnordered, s)
	assert.InDelta(t, 9*2.0/65535, texelAt(t, out, 0, 2, texel.Offset{X: 5, Y: 4})[0], 1e-12)
	assert.InDelta(t, 9*3.0/65535, texelAt(t, out, 0, 3, texel.Offset{X: 5, Y: 4})[0], 1e-12)
	assert.Zero(t, texelAt(t, out, 0, 1, texel.Offset{X: 5, Y: 4})[0])
	assert.Zero(t, texelAt(t, out, 0, 2, texel.Offset{X: 2, Y: 4})[0])
}

func TestSumParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	ext := extent(64, 48, 2)
	in := newImage(t, texel.R32G32B32A32Sfloat, ext, 2, 1)
	fill(t, in, 0, func(texel.Offset, int) []float64 {
		return []float64{rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()}
	})
	seq := newImage(t, texel.R64G64B64A64Sfloat, ext, 2, 1)
	par := newImage(t, texel.R64G64B64A64Sfloat, ext, 2, 1)
	runSum(t, Sequential, sumState(in, seq, ext, AxesAll, Exclusive))
	runSum(t, ParallelUnordered, sumState(in, par, ext, AxesAll, Exclusive))
	assert.Equal(t, seq.Buffer(), par.Buffer())
}

func TestSumScratchSizing(t *testing.T) {
	in := newImage(t, texel.R32G32B32A32Sfloat, extent(5, 4, 1), 2, 1)
	out := newImage(t, texel.R32G32B32A32Sfloat, extent(5, 4, 1), 2, 1)
	var f SummedAreaTable
	s := sumState(in, out, extent(5, 4, 1), AxesAll, Inclusive)
	required := f.RequiredScratchBytes(s)
	assert.Equal(t, required, f.RequiredScratchBytes(s))
	assert.Positive(t, required)

	s.Scratch = texel.AllocScratch(required - 1)
	assert.ErrorIs(t, f.Execute(Sequential, s), ErrScratchSize)
	s.Scratch = nil
	assert.ErrorIs(t, f.Execute(Sequential, s), ErrScratchSize)
	s.Scratch = texel.AllocScratch(required + 8)[1:]
	assert.ErrorIs(t, f.Execute(Sequential, s), ErrScratchAlign)

	var pool texel.ScratchPool
	s.Scratch = pool.Get(required)
	assert.NoError(t, f.Execute(Sequential, s))
	pool.Put(s.Scratch)
}

func TestSumPreconditions(t *testing.T) {
	ext := extent(4, 4, 1)
	in := newImage(t, texel.R32Sfloat, ext, 1, 1)
	outF := newImage(t, texel.R32Sfloat, ext, 1, 1)
	outRGBA := newImage(t, texel.R32G32B32A32Sfloat, ext, 1, 1)
	outUnorm := newImage(t, texel.R16Unorm, ext, 1, 1)
	in64 := newImage(t, texel.R64Sfloat, ext, 1, 1)
	bc1 := newImage(t, texel.BC1RGBAUnorm, ext, 1, 1)

	tests := []struct {
		name   string
		modify func(s *SumState)
		want   error
	}{
		{"nil input", func(s *SumState) { s.In = nil }, ErrNilImage},
		{"extent too large", func(s *SumState) { s.Extent = extent(5, 4, 1) }, ErrOutOfBounds},
		{"offset out", func(s *SumState) { s.OutOffset = texel.Offset{Y: 1} }, ErrOutOfBounds},
		{"negative offset", func(s *SumState) { s.InOffset = texel.Offset{X: -1} }, ErrOutOfBounds},
		{"layers", func(s *SumState) { s.LayerCount = 2 }, ErrOutOfBounds},
		{"zero layers", func(s *SumState) { s.LayerCount = 0 }, ErrOutOfBounds},
		{"mip", func(s *SumState) { s.InMipLevel = 1 }, ErrOutOfBounds},
		{"unorm output", func(s *SumState) { s.Out = outUnorm }, ErrFormat},
		{"channels", func(s *SumState) { s.Out = outRGBA }, ErrFormat},
		{"narrower", func(s *SumState) { s.In = in64 }, ErrFormat},
		{"compressed", func(s *SumState) { s.In = bc1 }, ErrFormat},
		{"axes", func(s *SumState) { s.Axes = 8 }, ErrAxes},
		{"mode", func(s *SumState) { s.Mode = 5 }, ErrAxes},
	}
	var f SummedAreaTable
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := sumState(in, outF, ext, AxesAll, Inclusive)
			s.Scratch = texel.AllocScratch(1 << 12)
			test.modify(s)
			err := f.Execute(ParallelUnordered, s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, test.want), "got %v", err)
		})
	}
	assert.ErrorIs(t, f.Execute(Sequential, nil), ErrNilImage)
}
