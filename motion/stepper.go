package motion

import (
	"context"
	"sync"
	"time"

	"github.com/mastercactapus/xybot/coord"
)

// DefaultInterval is the time between two interpolation steps.
const DefaultInterval = 20 * time.Millisecond

// Stepper runs at most one Plan at a time on its own goroutine.
type Stepper struct {
	interval time.Duration

	mx     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStepper creates a Stepper ticking at interval, or DefaultInterval if zero.
func NewStepper(interval time.Duration) *Stepper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Stepper{interval: interval}
}

// Start cancels and waits for any running plan, then begins emitting
// the positions of plan to apply.
func (s *Stepper) Start(plan Plan, apply func(coord.Point)) {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.stop()
	if plan.Steps == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(ctx, plan.Iter(), apply, done)
}

func (s *Stepper) run(ctx context.Context, it *Iter, apply func(coord.Point), done chan struct{}) {
	defer close(done)

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		pos, ok := it.Next()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		apply(pos)
	}
}

// stop must be called with mx held.
func (s *Stepper) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Cancel stops the running plan at the next step boundary and waits
// for it to exit.
func (s *Stepper) Cancel() {
	s.mx.Lock()
	s.stop()
	s.mx.Unlock()
}

// Moving returns true while a plan is still emitting positions.
func (s *Stepper) Moving() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the current plan, if any, has finished.
func (s *Stepper) Wait() {
	s.mx.Lock()
	done := s.done
	s.mx.Unlock()
	if done != nil {
		<-done
	}
}
