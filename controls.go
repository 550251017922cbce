package texel

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/soypat/geometry/ms2"
)

// Control represents an editable parameter of a kernel or dither strategy.
// Changing a value through ChangeValue affects every subsequent filter
// invocation using the owner; it must not be called while one is running.
type Control interface {
	// Display/human readable name and description.
	Describe() (name, description string)
	// ActualValue returns the current value of the control.
	ActualValue() any
	// ChangeValue attempts to update the ActualValue to newValue.
	ChangeValue(newValue any) error
}

// ControlOrdered is a numeric parameter constrained to [Min, Max].
type ControlOrdered[T cmp.Ordered] struct {
	Name        string
	Description string
	Value       T
	Min         T
	Max         T
	Step        T
	// OnChange is called with the new value before it is stored. May be nil.
	OnChange func(T) error
}

func (co *ControlOrdered[T]) Describe() (name, description string) {
	return co.Name, co.Description
}
func (co *ControlOrdered[T]) ActualValue() any { return co.Value }
func (co *ControlOrdered[T]) ChangeValue(newValue any) error {
	v, ok := newValue.(T)
	if !ok {
		return fmt.Errorf("new value %T not of type %T", newValue, co.Value)
	}
	if v < co.Min || v > co.Max {
		return fmt.Errorf("new value %v exceeds limits %v..%v", v, co.Min, co.Max)
	}
	if co.OnChange != nil {
		if err := co.OnChange(v); err != nil {
			return err
		}
	}
	co.Value = v
	return nil
}

type integer interface {
	~int | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64
}

type enum interface {
	integer
	fmt.Stringer
}

// ControlEnum selects one of ValidValues, i.e: a border policy.
type ControlEnum[T enum] struct {
	Name        string
	Description string
	Value       T
	ValidValues []T
	OnChange    func(T) error
}

func (ce *ControlEnum[T]) Describe() (name, description string) {
	return ce.Name, ce.Description
}
func (ce *ControlEnum[T]) ActualValue() any {
	return ce.Value
}
func (ce *ControlEnum[T]) ChangeValue(newValue any) error {
	v, ok := newValue.(T)
	if !ok {
		return fmt.Errorf("new value %T not of type %T", newValue, ce.Value)
	}
	if !slices.Contains(ce.ValidValues, v) {
		return fmt.Errorf("value %v of %T not valid", v, v)
	}
	if ce.OnChange != nil {
		if err := ce.OnChange(v); err != nil {
			return err
		}
	}
	ce.Value = v
	return nil
}

// CurvePoint is a control point of a piecewise linear curve.
// X is the kernel offset in texels and Y the weight at that offset.
type CurvePoint = ms2.Vec

// ControlCurve edits the control points of a piecewise linear curve.
// Points must be sorted by strictly increasing X.
type ControlCurve struct {
	Name        string
	Description string
	Points      []CurvePoint
	OnChange    func([]CurvePoint) error
}

func (cc *ControlCurve) Describe() (name, description string) {
	return cc.Name, cc.Description
}

func (cc *ControlCurve) ActualValue() any {
	return cc.Points
}

func (cc *ControlCurve) ChangeValue(newValue any) error {
	pts, ok := newValue.([]CurvePoint)
	if !ok {
		return fmt.Errorf("new value %T not of type []CurvePoint", newValue)
	}
	if err := ValidateCurve(pts); err != nil {
		return err
	}
	if cc.OnChange != nil {
		if err := cc.OnChange(pts); err != nil {
			return err
		}
	}
	cc.Points = pts
	return nil
}

// ValidateCurve checks pts has at least two points sorted by strictly increasing X.
func ValidateCurve(pts []CurvePoint) error {
	if len(pts) < 2 {
		return fmt.Errorf("curve needs at least 2 points, got %d", len(pts))
	}
	for i := 1; i < len(pts); i++ {
		if !(pts[i].X > pts[i-1].X) {
			return fmt.Errorf("curve point %d X=%v not greater than previous %v", i, pts[i].X, pts[i-1].X)
		}
	}
	return nil
}
