// Package robot tracks the state of an XY plotter and gates command
// issuance on device acknowledgments.
//
// The firmware has a single command slot: a gating command moves the robot
// from Idle to Busy, and only the matching acknowledgment moves it back.
package robot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mastercactapus/xybot/coord"
	"github.com/mastercactapus/xybot/link"
	"github.com/mastercactapus/xybot/motion"
	"github.com/rs/zerolog/log"
)

// DefaultAckTimeout bounds the wait for a single acknowledgment.
const DefaultAckTimeout = 10 * time.Second

var (
	// ErrBusy is returned when a gating command is submitted while another
	// is in flight. Nothing is sent.
	ErrBusy = errors.New("robot busy")

	// ErrFault is returned while the robot is in the fault state.
	ErrFault = errors.New("robot faulted")

	// ErrOutOfBounds is returned for move targets outside the drawing area.
	ErrOutOfBounds = motion.ErrOutOfBounds

	// ErrReset completes a pending command that was abandoned by Reset.
	ErrReset = errors.New("robot reset")
)

// A Sender writes a single line to the device.
type Sender interface {
	Send(line string) error
}

// Options configure a Robot.
type Options struct {
	Config Config

	// AckTimeout is applied by Wait and Do. Negative disables it.
	AckTimeout time.Duration

	// StepInterval is the interpolation cadence of MoveTo.
	StepInterval time.Duration
}

// A Ticket is the completion signal of one gating command.
type Ticket struct {
	Cmd link.Command
	Seq uint64

	target *coord.Point
	done   chan struct{}
	err    error
	once   sync.Once
}

func (t *Ticket) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done is closed once the command is acknowledged or abandoned.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err is valid after Done is closed.
func (t *Ticket) Err() error { return t.err }

// Robot is the owned state container of a single device.
type Robot struct {
	tr         Sender
	ackTimeout time.Duration
	stepper    *motion.Stepper

	mx      sync.Mutex
	state   State
	pending *Ticket
	seq     uint64
	pos     coord.Point
	cfg     Config

	events chan Event
}

// New creates a Robot writing commands to tr.
func New(tr Sender, opt Options) *Robot {
	if opt.Config == (Config{}) {
		opt.Config = DefaultConfig()
	}
	if opt.AckTimeout == 0 {
		opt.AckTimeout = DefaultAckTimeout
	}
	return &Robot{
		tr:         tr,
		ackTimeout: opt.AckTimeout,
		stepper:    motion.NewStepper(opt.StepInterval),
		cfg:        opt.Config,
		events:     make(chan Event, 100),
	}
}

// Events returns the channel of upward notifications. Events are dropped
// if nobody is reading.
func (r *Robot) Events() <-chan Event { return r.events }

func (r *Robot) publish(e Event) {
	select {
	case r.events <- e:
	default:
		log.Warn().Type("event", e).Msg("event dropped")
	}
}

// setState must be called with mx held.
func (r *Robot) setState(s State) {
	if r.state == s {
		return
	}
	r.state = s
	log.Debug().Stringer("state", s).Msg("state changed")
	r.publish(EventState{State: s})
}

func (r *Robot) State() State {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.state
}

func (r *Robot) Position() coord.Point {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.pos
}

func (r *Robot) setPosition(p coord.Point) {
	r.mx.Lock()
	r.pos = p
	r.mx.Unlock()
}

func (r *Robot) Config() Config {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.cfg
}

// Moving returns true while MoveTo is interpolating the position.
func (r *Robot) Moving() bool { return r.stepper.Moving() }

func (r *Robot) send(cmd link.Command) error {
	log.Debug().Str("line", cmd.String()).Msg("send")
	err := r.tr.Send(cmd.Line())
	if err != nil {
		return fmt.Errorf("send %s: %w", cmd.Verb, err)
	}
	return nil
}

// Submit sends cmd. Gating commands are only sent while Idle and return
// a Ticket; non-gating commands are always sent and return nil.
func (r *Robot) Submit(cmd link.Command) (*Ticket, error) {
	if !cmd.Verb.Gating() {
		return nil, r.send(cmd)
	}

	var target *coord.Point
	if cmd.Verb == link.VerbMove {
		_, x := cmd.Arg('X')
		_, y := cmd.Arg('Y')
		target = &coord.Point{X: x, Y: y}
	}

	r.mx.Lock()
	switch r.state {
	case StateBusy:
		r.mx.Unlock()
		log.Debug().Str("line", cmd.String()).Msg("busy, dropped")
		return nil, ErrBusy
	case StateFault:
		r.mx.Unlock()
		return nil, ErrFault
	}
	if target != nil && !r.cfg.Bounds().Contains(*target) {
		r.mx.Unlock()
		return nil, ErrOutOfBounds
	}
	r.seq++
	t := &Ticket{Cmd: cmd, Seq: r.seq, target: target, done: make(chan struct{})}
	r.pending = t
	r.setState(StateBusy)
	r.mx.Unlock()

	err := r.send(cmd)
	if err != nil {
		r.mx.Lock()
		if r.pending == t {
			r.pending = nil
			r.setState(StateFault)
		}
		r.mx.Unlock()
		t.finish(err)
		log.Error().Err(err).Msg("transport")
		return nil, err
	}

	return t, nil
}

// Wait blocks until t is acknowledged, ctx is done, or the ack timeout
// elapses. A timeout leaves the robot in the fault state.
func (r *Robot) Wait(ctx context.Context, t *Ticket) error {
	if t == nil {
		return nil
	}
	if r.ackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ackTimeout)
		defer cancel()
	}

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.mx.Lock()
		if r.pending == t {
			r.pending = nil
			r.setState(StateFault)
		}
		r.mx.Unlock()
		t.finish(ctx.Err())
		log.Error().Str("line", t.Cmd.String()).Msg("acknowledgment timed out")
	}

	return fmt.Errorf("await ack for %s: %w", t.Cmd.Verb, ctx.Err())
}

// Do submits cmd and waits for its acknowledgment.
func (r *Robot) Do(ctx context.Context, cmd link.Command) error {
	t, err := r.Submit(cmd)
	if err != nil {
		return err
	}
	return r.Wait(ctx, t)
}

// Reset abandons any pending command and returns the robot to Idle.
func (r *Robot) Reset() {
	r.mx.Lock()
	t := r.pending
	r.pending = nil
	r.setState(StateIdle)
	r.mx.Unlock()

	if t != nil {
		t.finish(ErrReset)
	}
}

// Home sends the robot to its origin. It requires the robot to be Idle.
func (r *Robot) Home() error {
	switch r.State() {
	case StateBusy:
		return ErrBusy
	case StateFault:
		return ErrFault
	}

	r.stepper.Cancel()
	err := r.send(link.Home())
	if err != nil {
		return err
	}
	r.setPosition(coord.Point{})
	return nil
}

// MoveTo issues a move to target and interpolates the reported position
// until the move is expected to finish.
func (r *Robot) MoveTo(target coord.Point) (*Ticket, error) {
	r.stepper.Cancel()

	from := r.Position()
	plan, err := motion.Prepare(from, target, r.Config().Bounds())
	if err != nil {
		return nil, err
	}
	switch r.State() {
	case StateBusy:
		return nil, ErrBusy
	case StateFault:
		return nil, ErrFault
	}

	// started before sending so an early ack finds the stepper moving
	r.stepper.Start(plan, r.setPosition)
	t, err := r.Submit(link.Move(target.X, target.Y))
	if err != nil {
		r.stepper.Cancel()
		r.setPosition(from)
		return nil, err
	}
	return t, nil
}

// SetTool moves the pen servo to pos.
func (r *Robot) SetTool(pos int) (*Ticket, error) { return r.Submit(link.ToolPosition(pos)) }

// SetToolPower sets the laser power, 0-255.
func (r *Robot) SetToolPower(power int) (*Ticket, error) { return r.Submit(link.ToolPower(power)) }

// SetToolDelay sets the auxiliary delay of the tool in ms.
func (r *Robot) SetToolDelay(ms int) (*Ticket, error) { return r.Submit(link.ToolDelay(ms)) }

// Serve dispatches lines until ctx is done or lines is closed.
func (r *Robot) Serve(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			r.HandleLine(line)
		}
	}
}

// HandleLine decodes a line received from the device and applies it.
func (r *Robot) HandleLine(line string) {
	e, err := link.Decode(line)
	if err != nil {
		log.Error().Err(err).Str("line", line).Msg("decode")
		return
	}

	switch e := e.(type) {
	case link.EventAck:
		r.ack(e)
	case link.EventSetupReport:
		r.applyReport(e)
	case link.EventEndstopReport:
		r.publish(EventEndstops{XMin: e.XMin, XMax: e.XMax, YMin: e.YMin, YMax: e.YMax})
	case link.EventUnknown:
		log.Debug().Str("line", e.Data).Msg("ignored")
	}
}

func (r *Robot) ack(e link.EventAck) {
	moving := r.stepper.Moving()

	r.mx.Lock()
	t := r.pending
	if t == nil {
		if r.state == StateFault {
			// late reply to a command that timed out
			r.setState(StateIdle)
			r.mx.Unlock()
			log.Info().Msg("late acknowledgment, fault cleared")
			return
		}
		r.mx.Unlock()
		log.Warn().Str("verb", string(e.Verb)).Msg("acknowledgment with nothing in flight")
		return
	}
	if e.Verb != "" && e.Verb != t.Cmd.Verb {
		r.mx.Unlock()
		log.Warn().Str("verb", string(e.Verb)).Str("pending", string(t.Cmd.Verb)).Msg("mismatched acknowledgment")
		return
	}
	r.pending = nil
	if t.target != nil && !moving {
		r.pos = *t.target
	}
	r.setState(StateIdle)
	r.mx.Unlock()

	t.finish(nil)
}
