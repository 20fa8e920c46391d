package coord

// Bounds is the reachable area of the robot, anchored at the origin.
type Bounds struct{ Width, Height float64 }

// Contains returns true if p lies within [0,Width]x[0,Height].
func (b Bounds) Contains(p Point) bool {
	return p.X >= 0 && p.X <= b.Width && p.Y >= 0 && p.Y <= b.Height
}
