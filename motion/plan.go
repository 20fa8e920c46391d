// Package motion interpolates the visual position of the pen carriage
// between a start and target point.
//
// It is deliberately coarse: one step per 2mm along the longest axis,
// unrelated to the real velocity of the machine.
package motion

import (
	"errors"
	"math"

	"github.com/mastercactapus/xybot/coord"
)

// ErrOutOfBounds is returned when a target lies outside the robot's area.
var ErrOutOfBounds = errors.New("target out of bounds")

// A Plan describes a straight move split into equal steps.
type Plan struct {
	From, To coord.Point

	Delta    coord.Point
	Distance float64
	Steps    int
}

// StepCount returns ceil(0.5 * max(|dx|, |dy|)).
func StepCount(delta coord.Point) int {
	d := delta.Abs()
	return int(math.Ceil(0.5 * math.Max(d.X, d.Y)))
}

// Prepare validates the target against b and computes the step plan.
func Prepare(from, to coord.Point, b coord.Bounds) (Plan, error) {
	if !b.Contains(to) {
		return Plan{}, ErrOutOfBounds
	}
	delta := to.Sub(from)
	return Plan{
		From:     from,
		To:       to,
		Delta:    delta,
		Distance: from.Distance(to),
		Steps:    StepCount(delta),
	}, nil
}

// Increment is the displacement applied at each step.
func (p Plan) Increment() coord.Point {
	if p.Steps == 0 {
		return coord.Point{}
	}
	return p.Delta.Div(float64(p.Steps))
}

// Iter returns a new iterator over the absolute positions of p.
func (p Plan) Iter() *Iter { return &Iter{plan: p, inc: p.Increment()} }

// Iter lazily yields the positions of a Plan. The final position is
// exactly Plan.To.
type Iter struct {
	plan Plan
	inc  coord.Point
	n    int
}

func (it *Iter) Next() (coord.Point, bool) {
	if it.n >= it.plan.Steps {
		return coord.Point{}, false
	}
	it.n++
	if it.n == it.plan.Steps {
		return it.plan.To, true
	}
	return it.plan.From.Add(it.inc.Mul(float64(it.n))), true
}

// Reset rewinds the iterator to the start of the plan.
func (it *Iter) Reset() { it.n = 0 }
