// Package job streams drawing paths to a robot one acknowledged command at
// a time, with pause, resume and cancel between points.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mastercactapus/xybot/coord"
)

var (
	// ErrRunning is returned by Start while another job is active.
	ErrRunning = errors.New("job already running")

	// ErrEmpty is returned by Start for a job without paths.
	ErrEmpty = errors.New("job has no paths")
)

// A Path is a polyline drawn without lifting the tool.
type Path []coord.Point

// A Job is an ordered list of paths.
type Job []Path

// Points returns the total number of points in j.
func (j Job) Points() int {
	var n int
	for _, p := range j {
		n += len(p)
	}
	return n
}

// Mode selects the tool driven by the runner.
type Mode int

const (
	ModePen Mode = iota
	ModeLaser
)

func (m Mode) String() string {
	if m == ModeLaser {
		return "laser"
	}
	return "pen"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(data []byte) error {
	switch strings.ToLower(string(data)) {
	case "pen", "":
		*m = ModePen
	case "laser":
		*m = ModeLaser
	default:
		return fmt.Errorf("unknown mode '%s'", data)
	}
	return nil
}

// Options control how a job is drawn.
type Options struct {
	Mode Mode

	// PenUp and PenDown are servo positions used in pen mode. When both
	// are zero they are taken from the device configuration.
	PenUp, PenDown int

	// LaserPower is the burn power, 0-255.
	LaserPower int

	// BurnDelay is the per-step dwell in ms sent with laser moves.
	BurnDelay int

	// Settle is the pause after each pen movement. Defaults to 200ms.
	Settle time.Duration

	// PollInterval bounds how long a paused job sleeps before checking
	// its state again. Defaults to 500ms.
	PollInterval time.Duration

	// Transform maps job coordinates to device coordinates. Nil is the
	// identity.
	Transform func(coord.Point) coord.Point
}

func (o *Options) setDefaults() {
	if o.Settle == 0 {
		o.Settle = 200 * time.Millisecond
	}
	if o.PollInterval == 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.Transform == nil {
		o.Transform = func(p coord.Point) coord.Point { return p }
	}
}

// CanvasTransform maps canvas coordinates, Y growing downward from origin,
// to device coordinates for a drawing area of the given height.
func CanvasTransform(origin coord.Point, height float64) func(coord.Point) coord.Point {
	return func(p coord.Point) coord.Point {
		return coord.Point{
			X: p.X - origin.X,
			Y: origin.Y + height - p.Y,
		}
	}
}

// ParseJob reads a job from its JSON form: an array of paths, each an
// array of [x, y] pairs.
func ParseJob(data []byte) (Job, error) {
	var raw [][][2]float64
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	j := make(Job, 0, len(raw))
	for _, rp := range raw {
		if len(rp) == 0 {
			continue
		}
		p := make(Path, len(rp))
		for i, v := range rp {
			p[i] = coord.Point{X: v[0], Y: v[1]}
		}
		j = append(j, p)
	}
	return j, nil
}
