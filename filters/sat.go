package filters

import (
	"fmt"

	"github.com/soypat/texel"
	"github.com/soypat/texel/internal/parallel"
)

// AxisMask selects a subset of the X, Y and Z axes.
type AxisMask uint8

const (
	AxisX AxisMask = 1 << iota
	AxisY
	AxisZ
	AxesAll = AxisX | AxisY | AxisZ
)

// Has reports whether axis 0 (X), 1 (Y) or 2 (Z) is selected.
func (m AxisMask) Has(axis int) bool { return m&(1<<axis) != 0 }

func (m AxisMask) String() string {
	if m == 0 {
		return "none"
	}
	s := ""
	for axis, name := range "xyz" {
		if m.Has(axis) {
			s += string(name)
		}
	}
	if m&^AxesAll != 0 {
		s += "+invalid"
	}
	return s
}

// SumMode selects whether a running sum includes the texel it is stored at.
type SumMode int

const (
	// Inclusive stores at index i the sum of texels [0, i].
	Inclusive SumMode = iota
	// Exclusive stores at index i the sum of texels [0, i). Index 0 holds zero.
	Exclusive
)

func (m SumMode) String() string {
	switch m {
	case Inclusive:
		return "inclusive"
	case Exclusive:
		return "exclusive"
	}
	return "unknown"
}

// SumState configures one [SummedAreaTable] invocation.
type SumState struct {
	State
	// Extent of the summed box, identical in the input and output images.
	Extent texel.Extent
	// Axes to sum along. Zero copies the input with format conversion only.
	Axes AxisMask
	Mode SumMode
	// Normalize divides each channel of each layer by the total of the summed
	// box so an inclusive sum over all axes ends in 1 at the far corner.
	// Boxes whose total is zero are left unnormalized.
	Normalize bool
}

// SummedAreaTable computes running sums of texels along a selection of axes.
// The output format must be floating point with the input's channel count and
// at least its bits per channel. Each output region at the output mip level is
// summed independently: sums never cross region boundaries.
type SummedAreaTable struct{}

var _ Filter[SumState] = SummedAreaTable{}

// RequiredScratchBytes implements [Filter].
func (SummedAreaTable) RequiredScratchBytes(s *SumState) int {
	if s.In == nil || s.LayerCount <= 0 || s.Extent.Empty() {
		return 0
	}
	nch := s.In.Format().Channels()
	return (s.Extent.Volume()*s.LayerCount*nch + s.LayerCount*nch) * 8
}

func (f SummedAreaTable) validate(s *SumState) error {
	if err := s.State.validate(s.Extent, s.Extent); err != nil {
		return err
	}
	inF, outF := s.In.Format(), s.Out.Format()
	if !outF.IsFloat() {
		return fmt.Errorf("%w: output %v must be floating point", ErrFormat, outF)
	} else if inF.Channels() != outF.Channels() {
		return fmt.Errorf("%w: %v and %v channel counts differ", ErrFormat, inF, outF)
	} else if outF.BitsPerChannel() < inF.BitsPerChannel() {
		return fmt.Errorf("%w: output %v narrower than input %v", ErrFormat, outF, inF)
	}
	if s.Axes&^AxesAll != 0 {
		return fmt.Errorf("%w: %v", ErrAxes, s.Axes)
	}
	if s.Mode != Inclusive && s.Mode != Exclusive {
		return fmt.Errorf("%w: bad sum mode %d", ErrAxes, s.Mode)
	}
	return nil
}

// Execute implements [Filter].
func (f SummedAreaTable) Execute(policy Policy, s *SumState) error {
	if s == nil {
		return ErrNilImage
	}
	if err := f.validate(s); err != nil {
		return err
	}
	scratch, err := s.scratchFloats(f.RequiredScratchBytes(s) / 8)
	if err != nil || s.Extent.Empty() {
		return err
	}
	workers := policy.workers()
	nch := s.In.Format().Channels()
	totals := scratch[:s.LayerCount*nch]
	data := scratch[len(totals):]
	for _, ri := range s.Out.RegionsAt(s.OutMipLevel) {
		r := s.Out.Region(ri)
		off, ext, ok := texel.Intersect(r.ImageOffset, r.ImageExtent, s.OutOffset, s.Extent)
		l0 := max(r.BaseLayer, s.OutBaseLayer)
		l1 := min(r.BaseLayer+r.LayerCount, s.OutBaseLayer+s.LayerCount)
		if !ok || l0 >= l1 {
			continue
		}
		src := block{
			off:    s.InOffset.Add(off.Sub(s.OutOffset)),
			ext:    ext,
			layer:  s.InBaseLayer + l0 - s.OutBaseLayer,
			layers: l1 - l0,
			nch:    nch,
		}
		scope := data[:src.len()]
		gather(workers, s.In, s.InMipLevel, src, scope, nil)
		if s.Normalize {
			blockTotals(workers, scope, src, totals[:src.layers*nch])
		}
		for axis := range 3 {
			if s.Axes.Has(axis) {
				prefixSum(workers, scope, src, axis, s.Mode)
			}
		}
		if s.Normalize {
			normalize(workers, scope, src, totals[:src.layers*nch])
		}
		dst := src
		dst.off, dst.layer = off, l0
		scatter(workers, s.Out, []int{ri}, s.OutMipLevel, dst, scope, nil)
	}
	return nil
}

// prefixSum replaces every line of data along axis with its running sum.
// Lines are independent and processed in parallel.
func prefixSum(workers int, data []float64, b block, axis int, mode SumMode) {
	n := b.ext.Axis(axis)
	stride, lineBase := lineLayout(b, axis)
	lines := b.texels() / n
	nch := b.nch
	parallel.For(workers, lines, func(start, end int) {
		for line := start; line < end; line++ {
			base := lineBase(line)
			for c := range nch {
				acc := 0.0
				for i := range n {
					idx := (base+i*stride)*nch + c
					v := data[idx]
					if mode == Exclusive {
						data[idx] = acc
						acc += v
					} else {
						acc += v
						data[idx] = acc
					}
				}
			}
		}
	})
}

// blockTotals stores in totals the sum of every (layer, channel) of data.
func blockTotals(workers int, data []float64, b block, totals []float64) {
	perLayer := b.ext.Volume()
	nch := b.nch
	parallel.For(workers, b.layers*nch, func(start, end int) {
		for lc := start; lc < end; lc++ {
			layer, c := lc/nch, lc%nch
			sum := 0.0
			base := layer * perLayer * nch
			for i := range perLayer {
				sum += data[base+i*nch+c]
			}
			totals[lc] = sum
		}
	})
}

func normalize(workers int, data []float64, b block, totals []float64) {
	perLayer := b.ext.Volume()
	nch := b.nch
	parallel.For(workers, b.layers*perLayer, func(start, end int) {
		for t := start; t < end; t++ {
			layer := t / perLayer
			for c := range nch {
				total := totals[layer*nch+c]
				if total != 0 {
					data[t*nch+c] /= total
				}
			}
		}
	})
}
