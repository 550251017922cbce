package filters

import (
	"fmt"
	"math"

	"github.com/soypat/texel"
	"github.com/soypat/texel/internal/parallel"
)

// defaultSamplesPerTexel is the integration density used to compose kernels.
// A power of two keeps half-texel kernel discontinuities between samples.
const defaultSamplesPerTexel = 64

// AxisKernels are the kernels applied along one axis. The effective weight of
// an input texel is the input kernel convolved with the output kernel, the
// latter stretched to the size of an output texel in input space.
type AxisKernels struct {
	// Input reconstructs the input signal. nil means [Box].
	Input Kernel
	// Output integrates the reconstructed signal over an output texel. nil means [Box].
	Output Kernel
	Border Border
}

func (ak AxisKernels) kernels() (in, out Kernel) {
	in, out = ak.Input, ak.Output
	if in == nil {
		in = Box{}
	}
	if out == nil {
		out = Box{}
	}
	return in, out
}

// ConvolveState configures one [Convolution] invocation.
type ConvolveState struct {
	State
	InExtent  texel.Extent
	OutExtent texel.Extent
	// Swizzle remaps input channels into output channel slots.
	Swizzle Swizzle
	// Dither is applied when quantizing to integer output formats. nil disables dithering.
	Dither Dither
}

// Convolution resamples or filters an image with separable kernels, one pass
// per axis in X, Y, Z order. Input and output extents may differ along any axis.
type Convolution struct {
	// Axes holds the kernels for X, Y and Z.
	Axes [3]AxisKernels
	// SamplesPerTexel is the integration density used to compose each axis'
	// input and output kernels. Zero means 64.
	SamplesPerTexel int
}

var _ Filter[ConvolveState] = (*Convolution)(nil)

// NewDiscreteDifference returns a convolution that undoes an inclusive
// [SummedAreaTable] over the axes in mask. Other axes pass through unchanged.
func NewDiscreteDifference(mask AxisMask) *Convolution {
	var f Convolution
	for axis := range f.Axes {
		if mask.Has(axis) {
			f.Axes[axis].Input = DiscreteDifference{}
		}
	}
	return &f
}

// Controls returns the border policy of each axis followed by the controls of
// any kernel that exposes them.
func (f *Convolution) Controls() []texel.Control {
	var ctrls []texel.Control
	for axis := range f.Axes {
		ak := &f.Axes[axis]
		ctrls = append(ctrls, &texel.ControlEnum[Border]{
			Name:        fmt.Sprintf("Border %c", "XYZ"[axis]),
			Description: "Treatment of texels outside the input",
			Value:       ak.Border,
			ValidValues: []Border{BorderZero, BorderClamp, BorderWrap},
			OnChange: func(b Border) error {
				ak.Border = b
				return nil
			},
		})
		for _, k := range []Kernel{ak.Input, ak.Output} {
			if c, ok := k.(interface{ Controls() []texel.Control }); ok {
				ctrls = append(ctrls, c.Controls()...)
			}
		}
	}
	return ctrls
}

// axisPlan holds the weight table of one axis pass.
type axisPlan struct {
	in, out int
	scale   float64
	radius  float64
	taps    int
	border  Border
	kin     Kernel
	kout    Kernel
}

func (p *axisPlan) center(o int) float64 { return (float64(o)+0.5)*p.scale - 0.5 }

func (p *axisPlan) first(o int) int { return int(math.Floor(p.center(o) - p.radius)) }

func (p *axisPlan) tableLen(nch int) int { return p.out * p.taps * nch }

func (f *Convolution) samples() int {
	if f.SamplesPerTexel > 0 {
		return f.SamplesPerTexel
	}
	return defaultSamplesPerTexel
}

// plans returns the per axis plans. Extents must be non-empty.
func (f *Convolution) plans(in, out texel.Extent) (plans [3]axisPlan, err error) {
	for axis := range plans {
		kin, kout := f.Axes[axis].kernels()
		sin, sout := kin.Support(), kout.Support()
		if !(sin > 0) || !(sout > 0) || math.IsInf(sin, 0) || math.IsInf(sout, 0) {
			return plans, fmt.Errorf("%w: axis %d supports %v and %v", ErrKernel, axis, sin, sout)
		}
		n, m := in.Axis(axis), out.Axis(axis)
		scale := float64(n) / float64(m)
		radius := sin + sout*scale
		taps := 2*radius + 2
		if taps > math.MaxInt32 {
			return plans, fmt.Errorf("%w: axis %d support too large", ErrKernel, axis)
		}
		plans[axis] = axisPlan{
			in:     n,
			out:    m,
			scale:  scale,
			radius: radius,
			taps:   int(taps),
			border: f.Axes[axis].Border,
			kin:    kin,
			kout:   kout,
		}
	}
	return plans, nil
}

// layout describes the scratch partition of an invocation.
type layout struct {
	plans  [3]axisPlan
	exts   [4]texel.Extent // Block extent before the X pass and after every pass.
	nch    int
	tables [3]int
	bufA   int
	bufB   int
}

func (l *layout) floats() int {
	return l.tables[0] + l.tables[1] + l.tables[2] + l.bufA + l.bufB
}

func (f *Convolution) layout(s *ConvolveState) (l layout, err error) {
	if s.Out == nil {
		return l, ErrNilImage
	}
	plans, err := f.plans(s.InExtent, s.OutExtent)
	if err != nil {
		return l, err
	}
	l.plans = plans
	l.nch = s.Out.Format().Channels()
	l.exts[0] = s.InExtent
	for axis := range 3 {
		l.exts[axis+1] = l.exts[axis].SetAxis(axis, s.OutExtent.Axis(axis))
		l.tables[axis] = plans[axis].tableLen(l.nch)
	}
	per := s.LayerCount * l.nch
	l.bufA = max(l.exts[0].Volume(), l.exts[2].Volume()) * per
	l.bufB = max(l.exts[1].Volume(), l.exts[3].Volume()) * per
	return l, nil
}

// RequiredScratchBytes implements [Filter]. It depends on the filter's kernels
// as well as the geometry of s.
func (f *Convolution) RequiredScratchBytes(s *ConvolveState) int {
	if s.LayerCount <= 0 || s.InExtent.Empty() || s.OutExtent.Empty() {
		return 0
	}
	l, err := f.layout(s)
	if err != nil {
		return 0
	}
	return l.floats() * 8
}

// Execute implements [Filter].
func (f *Convolution) Execute(policy Policy, s *ConvolveState) error {
	if s == nil {
		return ErrNilImage
	}
	if err := s.State.validate(s.InExtent, s.OutExtent); err != nil {
		return err
	}
	outCh := s.Out.Format().Channels()
	mapCh, err := s.Swizzle.channelMap(s.In.Format().Channels(), outCh)
	if err != nil {
		return err
	}
	if s.OutExtent.Empty() {
		return nil
	} else if s.InExtent.Empty() {
		return fmt.Errorf("%w: empty input box for non-empty output", ErrOutOfBounds)
	}
	l, err := f.layout(s)
	if err != nil {
		return err
	}
	scratch, err := s.scratchFloats(l.floats())
	if err != nil {
		return err
	}
	workers := policy.workers()

	var tables [3][]float64
	rest := scratch
	for axis := range tables {
		tables[axis], rest = rest[:l.tables[axis]], rest[l.tables[axis]:]
		f.buildTable(workers, &l.plans[axis], tables[axis], l.nch)
	}
	bufA, bufB := rest[:l.bufA], rest[l.bufA:l.bufA+l.bufB]

	src := block{off: s.InOffset, ext: s.InExtent, layer: s.InBaseLayer, layers: s.LayerCount, nch: outCh}
	gather(workers, s.In, s.InMipLevel, src, bufA[:src.len()], mapCh)

	bufs := [2][]float64{bufA, bufB}
	for axis := range 3 {
		from := block{ext: l.exts[axis], layers: s.LayerCount, nch: outCh}
		to := block{ext: l.exts[axis+1], layers: s.LayerCount, nch: outCh}
		resample(workers, &l.plans[axis], tables[axis], axis,
			bufs[axis%2][:from.len()], from, bufs[(axis+1)%2][:to.len()], to)
	}

	dst := block{off: s.OutOffset, ext: s.OutExtent, layer: s.OutBaseLayer, layers: s.LayerCount, nch: outCh}
	scatter(workers, s.Out, s.Out.RegionsAt(s.OutMipLevel), s.OutMipLevel, dst, bufB[:dst.len()], s.Dither)
	return nil
}

// buildTable fills table with the composed kernel weight of every tap of
// every output texel for every channel.
func (f *Convolution) buildTable(workers int, p *axisPlan, table []float64, nch int) {
	sin := p.kin.Support()
	n := int(math.Ceil(2 * sin * float64(f.samples())))
	dt := 2 * sin / float64(n)
	parallel.For(workers, p.out, func(start, end int) {
		for o := start; o < end; o++ {
			c := p.center(o)
			lo := p.first(o)
			for k := range p.taps {
				x := float64(lo+k) - c
				for ch := range nch {
					w := 0.0
					for i := range n {
						t := -sin + (float64(i)+0.5)*dt
						win := p.kin.Weight(t, ch)
						if win == 0 {
							continue
						}
						w += win * p.kout.Weight((x-t)/p.scale, ch)
					}
					table[(o*p.taps+k)*nch+ch] = w * dt / p.scale
				}
			}
		}
	})
}

// resample runs one axis pass from src into dst, which differ only in their
// extent along axis. Every output texel is the weighted sum of its taps in
// increasing input order regardless of how lines are partitioned.
func resample(workers int, p *axisPlan, table []float64, axis int, src []float64, sb block, dst []float64, db block) {
	srcStride, srcBase := lineLayout(sb, axis)
	dstStride, dstBase := lineLayout(db, axis)
	lines := db.texels() / p.out
	nch := db.nch
	parallel.For(workers, lines, func(start, end int) {
		for line := start; line < end; line++ {
			sBase, dBase := srcBase(line), dstBase(line)
			for o := range p.out {
				lo := p.first(o)
				w := table[o*p.taps*nch:]
				di := (dBase + o*dstStride) * nch
				for ch := range nch {
					acc := 0.0
					for k := range p.taps {
						j, ok := p.border.resolve(lo+k, p.in)
						if !ok {
							continue
						}
						acc += w[k*nch+ch] * src[(sBase+j*srcStride)*nch+ch]
					}
					dst[di+ch] = acc
				}
			}
		}
	})
}

// lineLayout returns the texel stride along axis of a block and a function
// giving the texel index of the first texel of each line along that axis.
// Lines are numbered over the block's other axes and layers.
func lineLayout(b block, axis int) (stride int, base func(line int) int) {
	w, h, d := b.ext.Width, b.ext.Height, b.ext.Depth
	switch axis {
	case 0:
		return 1, func(line int) int { return line * w }
	case 1:
		return w, func(line int) int { return line/w*w*h + line%w }
	default:
		return w * h, func(line int) int { return line/(w*h)*w*h*d + line%(w*h) }
	}
}
