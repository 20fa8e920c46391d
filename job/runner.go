package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mastercactapus/xybot/coord"
	"github.com/mastercactapus/xybot/link"
	"github.com/mastercactapus/xybot/robot"
	"github.com/rs/zerolog/log"
)

// A Device executes one command and waits for its acknowledgment.
type Device interface {
	Do(ctx context.Context, cmd link.Command) error
}

// configurer is implemented by devices that know their pen positions.
type configurer interface {
	Config() robot.Config
}

var errCancelled = errors.New("job cancelled")

// Runner draws one job at a time on a Device.
type Runner struct {
	dev Device

	mx     sync.Mutex
	state  RunState
	wake   chan struct{}
	done   chan struct{}
	result EventDone

	events chan Event
}

func NewRunner(dev Device) *Runner {
	return &Runner{
		dev:    dev,
		events: make(chan Event, 100),
	}
}

// Events returns the channel of progress notifications. Events are dropped
// if nobody is reading.
func (r *Runner) Events() <-chan Event { return r.events }

func (r *Runner) publish(e Event) {
	select {
	case r.events <- e:
	default:
		log.Warn().Type("event", e).Msg("job event dropped")
	}
}

// setState must be called with mx held.
func (r *Runner) setState(s RunState) {
	if r.state == s {
		return
	}
	r.state = s
	log.Debug().Stringer("state", s).Msg("job state changed")
	r.publish(EventState{State: s})
}

func (r *Runner) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) State() RunState {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.state
}

// Start begins drawing j in the background.
func (r *Runner) Start(ctx context.Context, j Job, opt Options) error {
	if len(j) == 0 {
		return ErrEmpty
	}
	opt.setDefaults()
	if opt.Mode == ModePen && opt.PenUp == 0 && opt.PenDown == 0 {
		cfg := robot.DefaultConfig()
		if c, ok := r.dev.(configurer); ok {
			cfg = c.Config()
		}
		opt.PenUp, opt.PenDown = cfg.PenUp, cfg.PenDown
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state != StateIdle {
		return ErrRunning
	}
	// the caller is free to reuse j
	cp := make(Job, len(j))
	for i, p := range j {
		cp[i] = append(Path(nil), p...)
	}

	r.wake = make(chan struct{}, 1)
	r.done = make(chan struct{})
	r.result = EventDone{}
	r.setState(StateRunning)

	log.Info().Int("paths", len(j)).Int("points", j.Points()).Stringer("mode", opt.Mode).Msg("job started")
	go r.run(ctx, cp, opt, r.done)
	return nil
}

// Pause holds the job before its next point.
func (r *Runner) Pause() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state == StateRunning {
		r.setState(StatePaused)
	}
}

func (r *Runner) Resume() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state == StatePaused {
		r.setState(StateRunning)
		r.notify()
	}
}

// Cancel stops the job before its next point. A command already in flight
// is allowed to complete.
func (r *Runner) Cancel() {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state == StateRunning || r.state == StatePaused {
		r.setState(StateCancelled)
		r.notify()
	}
}

// Wait blocks until the current job finishes and returns its result.
func (r *Runner) Wait(ctx context.Context) (EventDone, error) {
	r.mx.Lock()
	done := r.done
	r.mx.Unlock()
	if done == nil {
		return EventDone{}, nil
	}

	select {
	case <-ctx.Done():
		return EventDone{}, ctx.Err()
	case <-done:
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result, nil
}

// proceed blocks while paused and reports errCancelled once cancelled.
func (r *Runner) proceed(ctx context.Context, poll time.Duration) error {
	for {
		err := ctx.Err()
		if err != nil {
			return err
		}

		r.mx.Lock()
		s := r.state
		wake := r.wake
		r.mx.Unlock()

		switch s {
		case StateRunning:
			return nil
		case StatePaused:
		default:
			return errCancelled
		}

		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
		case <-wake:
		case <-t.C:
		}
		t.Stop()
	}
}

// fatal reports whether err leaves the device out of step with the job.
func fatal(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, robot.ErrFault) ||
		errors.Is(err, errCancelled)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) run(ctx context.Context, j Job, opt Options, done chan struct{}) {
	res := EventDone{}

	var err error
paths:
	for i, path := range j {
		for n, p := range path {
			err = r.proceed(ctx, opt.PollInterval)
			if err != nil {
				break paths
			}
			err = r.point(ctx, opt, opt.Transform(p), n == 0)
			if fatal(err) {
				break paths
			}
			if err != nil {
				res.Skipped++
				log.Warn().Err(err).Int("path", i).Int("point", n).Msg("step skipped")
			}
		}

		if opt.Mode == ModePen {
			err = r.penUp(ctx, opt)
			if fatal(err) {
				break paths
			}
			if err != nil {
				res.Skipped++
				log.Warn().Err(err).Int("path", i).Msg("pen up skipped")
			}
		}
		err = nil

		res.Paths = i + 1
		r.publish(EventProgress{Percent: res.Paths * 100 / len(j), Path: res.Paths, Total: len(j)})
	}

	if errors.Is(err, errCancelled) {
		res.Cancelled = true
		err = nil
	}
	res.Err = err

	r.mx.Lock()
	r.result = res
	r.setState(StateIdle)
	r.mx.Unlock()

	if res.Err != nil {
		log.Error().Err(res.Err).Int("paths", res.Paths).Msg("job failed")
	} else {
		log.Info().Int("paths", res.Paths).Int("skipped", res.Skipped).Bool("cancelled", res.Cancelled).Msg("job done")
	}
	r.publish(res)
	close(done)
}

// point moves to p. The first point of a path lowers the tool after the
// travel move.
func (r *Runner) point(ctx context.Context, opt Options, p coord.Point, first bool) error {
	if !first {
		delay := 0
		if opt.Mode == ModeLaser {
			delay = opt.BurnDelay
		}
		return r.dev.Do(ctx, link.MoveDelay(p.X, p.Y, delay))
	}

	if opt.Mode == ModeLaser {
		err := r.dev.Do(ctx, link.ToolPower(0))
		if err != nil {
			return err
		}
		err = r.dev.Do(ctx, link.MoveDelay(p.X, p.Y, 0))
		if err != nil {
			return err
		}
		return r.dev.Do(ctx, link.ToolPower(opt.LaserPower))
	}

	err := r.dev.Do(ctx, link.MoveDelay(p.X, p.Y, 0))
	if err != nil {
		return err
	}
	err = r.dev.Do(ctx, link.ToolPosition(opt.PenDown))
	if err != nil {
		return err
	}
	return sleep(ctx, opt.Settle)
}

func (r *Runner) penUp(ctx context.Context, opt Options) error {
	err := r.dev.Do(ctx, link.ToolPosition(opt.PenUp))
	if err != nil {
		return err
	}
	return sleep(ctx, opt.Settle)
}
