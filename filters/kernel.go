package filters

import (
	"math"

	"github.com/soypat/texel"
	"golang.org/x/image/draw"
)

// Kernel is a 1D weighting function over [-Support(), Support()] texels.
// Implementations must be pure: Weight may be called concurrently and must
// return the same value for the same arguments. Weight returns 0 outside the support.
type Kernel interface {
	// Support returns the positive half-width of the kernel in texels.
	Support() float64
	// Weight returns the weight at offset x (input position minus output position) for channel.
	Weight(x float64, channel int) float64
}

// Box is the unit box kernel: weight 1 over [-0.5, 0.5].
type Box struct{}

func (Box) Support() float64 { return 0.5 }

func (Box) Weight(x float64, _ int) float64 {
	if x >= -0.5 && x <= 0.5 {
		return 1
	}
	return 0
}

// DiscreteDifference is the backward finite difference operator: weight -1
// over [-1.5, -0.5], 1 over (-0.5, 0.5] and 0 elsewhere. Convolving an
// inclusive running sum with it recovers the summed signal.
type DiscreteDifference struct{}

func (DiscreteDifference) Support() float64 { return 1.5 }

func (DiscreteDifference) Weight(x float64, _ int) float64 {
	switch {
	case x >= -1.5 && x <= -0.5:
		return -1
	case x > -0.5 && x <= 0.5:
		return 1
	}
	return 0
}

// Triangle is the tent kernel 1-|x| over [-1, 1].
type Triangle struct{}

func (Triangle) Support() float64 { return 1 }

func (Triangle) Weight(x float64, _ int) float64 {
	x = math.Abs(x)
	if x >= 1 {
		return 0
	}
	return 1 - x
}

// Gaussian is a normalized gaussian truncated at three standard deviations.
type Gaussian struct {
	Sigma float64
}

func (g *Gaussian) Support() float64 { return 3 * g.Sigma }

func (g *Gaussian) Weight(x float64, _ int) float64 {
	if math.Abs(x) > g.Support() {
		return 0
	}
	return math.Exp(-x*x/(2*g.Sigma*g.Sigma)) / (g.Sigma * math.Sqrt(2*math.Pi))
}

// Controls returns the editable standard deviation of the kernel.
func (g *Gaussian) Controls() []texel.Control {
	return []texel.Control{
		&texel.ControlOrdered[float64]{
			Name:        "Sigma",
			Description: "Standard deviation in texels",
			Value:       g.Sigma,
			Min:         0.1,
			Max:         32,
			Step:        0.1,
			OnChange: func(v float64) error {
				g.Sigma = v
				return nil
			},
		},
	}
}

// Curve is a piecewise linear kernel through control points sorted by X.
// The weight is zero outside the first and last point.
type Curve struct {
	Points []texel.CurvePoint
}

// NewCurve returns a curve kernel after checking the control points.
func NewCurve(pts []texel.CurvePoint) (*Curve, error) {
	if err := texel.ValidateCurve(pts); err != nil {
		return nil, err
	}
	return &Curve{Points: pts}, nil
}

func (c *Curve) Support() float64 {
	if len(c.Points) == 0 {
		return 0
	}
	return max(math.Abs(float64(c.Points[0].X)), math.Abs(float64(c.Points[len(c.Points)-1].X)))
}

func (c *Curve) Weight(x float64, _ int) float64 {
	pts := c.Points
	if len(pts) < 2 || x < float64(pts[0].X) || x > float64(pts[len(pts)-1].X) {
		return 0
	}
	for i := 1; i < len(pts); i++ {
		x0, x1 := float64(pts[i-1].X), float64(pts[i].X)
		if x > x1 {
			continue
		}
		y0, y1 := float64(pts[i-1].Y), float64(pts[i].Y)
		return y0 + (y1-y0)*(x-x0)/(x1-x0)
	}
	return 0
}

// Controls returns the editable control points of the curve.
func (c *Curve) Controls() []texel.Control {
	return []texel.Control{
		&texel.ControlCurve{
			Name:        "Weights",
			Description: "Kernel weight (Y) at texel offset (X)",
			Points:      c.Points,
			OnChange: func(pts []texel.CurvePoint) error {
				c.Points = pts
				return nil
			},
		},
	}
}

// drawKernel adapts a symmetric [draw.Kernel].
type drawKernel struct {
	k *draw.Kernel
}

// FromDraw adapts a golang.org/x/image/draw kernel such as [draw.CatmullRom]
// or [draw.BiLinear]. draw kernels are symmetric and defined for t >= 0.
func FromDraw(k *draw.Kernel) Kernel { return drawKernel{k: k} }

func (d drawKernel) Support() float64 { return d.k.Support }

func (d drawKernel) Weight(x float64, _ int) float64 {
	x = math.Abs(x)
	if x >= d.k.Support {
		return 0
	}
	return d.k.At(x)
}

// Scaled stretches a kernel by Factor along its axis and multiplies its weights by Gain.
type Scaled struct {
	Kernel Kernel
	Factor float64
	Gain   float64
}

func (s Scaled) Support() float64 { return s.Kernel.Support() * s.Factor }

func (s Scaled) Weight(x float64, channel int) float64 {
	return s.Gain * s.Kernel.Weight(x/s.Factor, channel)
}

// PerChannel selects a different kernel for each of the 4 channels.
// All kernels should share the same support; the largest is reported.
type PerChannel [4]Kernel

func (p PerChannel) Support() float64 {
	s := 0.0
	for _, k := range p {
		if k != nil {
			s = max(s, k.Support())
		}
	}
	return s
}

func (p PerChannel) Weight(x float64, channel int) float64 {
	if channel < 0 || channel >= len(p) || p[channel] == nil {
		return 0
	}
	return p[channel].Weight(x, channel)
}

// Border selects how texels outside the input box are treated.
type Border int

const (
	// BorderZero makes texels outside the input contribute nothing.
	BorderZero Border = iota
	// BorderClamp repeats the edge texel.
	BorderClamp
	// BorderWrap tiles the input.
	BorderWrap
)

func (b Border) String() string {
	switch b {
	case BorderZero:
		return "zero"
	case BorderClamp:
		return "clamp"
	case BorderWrap:
		return "wrap"
	}
	return "unknown"
}

// resolve maps input coordinate j of an axis with n texels according to the border.
// ok is false if the coordinate contributes nothing.
func (b Border) resolve(j, n int) (int, bool) {
	if j >= 0 && j < n {
		return j, true
	}
	switch b {
	case BorderClamp:
		return min(max(j, 0), n-1), true
	case BorderWrap:
		j %= n
		if j < 0 {
			j += n
		}
		return j, true
	}
	return 0, false
}
