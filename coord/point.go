package coord

import (
	"math"
)

// Point is a position on the drawing plane, in millimeters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	return p
}

func (p Point) Div(val float64) Point {
	p.X /= val
	p.Y /= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	return p
}

// Abs returns p with both components made non-negative.
func (p Point) Abs() Point {
	return Point{X: math.Abs(p.X), Y: math.Abs(p.Y)}
}

// Distance will return the 2D distance from p to target.
func (p Point) Distance(target Point) float64 {
	return math.Hypot(target.X-p.X, target.Y-p.Y)
}
