package transport

import (
	"io"
	"sync"
	"time"

	"github.com/mastercactapus/xybot/coord"
	"github.com/mastercactapus/xybot/link"
	"github.com/rs/zerolog/log"
)

// SimState is the firmware state kept by a Simulator.
type SimState struct {
	Width, Height  float64
	MotorA, MotorB link.Direction
	Speed          int
	PenUp, PenDown int

	Pos       coord.Point
	Tool      int
	Power     int
	ToolDelay int

	// Endstops are the raw switch readings reported by M11.
	Endstops link.EventEndstopReport
}

// SimOptions configure a Simulator.
type SimOptions struct {
	// Delay before each acknowledgment.
	Delay time.Duration

	// Echo acknowledges with the command verb instead of OK.
	Echo bool

	// Drop makes the simulator swallow every gating command unacknowledged.
	Drop bool
}

// Simulator is an in-process stand-in for the plotter firmware.
type Simulator struct {
	opt SimOptions

	mx    sync.Mutex
	state SimState
	sent  []string

	lines   chan string
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

var _ Transport = &Simulator{}

func NewSimulator(opt SimOptions) *Simulator {
	return &Simulator{
		opt: opt,
		state: SimState{
			Width:   380,
			Height:  310,
			Speed:   50,
			PenUp:   130,
			PenDown: 50,
		},
		lines:   make(chan string, 100),
		closeCh: make(chan struct{}),
	}
}

func (s *Simulator) Lines() <-chan string { return s.lines }

// State returns a copy of the simulated firmware state.
func (s *Simulator) State() SimState {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state
}

// SetEndstops changes the switch readings reported by M11.
func (s *Simulator) SetEndstops(e link.EventEndstopReport) {
	s.mx.Lock()
	s.state.Endstops = e
	s.mx.Unlock()
}

// Sent returns every line received so far.
func (s *Simulator) Sent() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *Simulator) reply(line string, delay time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-s.closeCh:
				return
			}
		}
		select {
		case s.lines <- line:
		case <-s.closeCh:
		}
	}()
}

// Send executes a single command line.
func (s *Simulator) Send(line string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	select {
	case <-s.closeCh:
		return io.ErrClosedPipe
	default:
	}

	cmd, err := link.ParseCommand(line)
	if err != nil {
		log.Debug().Err(err).Str("line", line).Msg("sim: ignored")
		return nil
	}
	s.sent = append(s.sent, cmd.String())
	s.apply(cmd)

	switch {
	case cmd.Verb == link.VerbReadConfig:
		s.reply(s.report().String(), 0)
	case cmd.Verb == link.VerbReadEndstops:
		s.reply(s.state.Endstops.String(), 0)
	case cmd.Verb.Gating() && !s.opt.Drop:
		ack := "OK"
		if s.opt.Echo {
			ack = string(cmd.Verb)
		}
		s.reply(ack, s.opt.Delay)
	}
	return nil
}

func bare(c link.Command) int {
	for _, w := range c.Words {
		if w.W == 0 {
			return int(w.Arg)
		}
	}
	return 0
}

// apply must be called with mx held.
func (s *Simulator) apply(cmd link.Command) {
	st := &s.state
	switch cmd.Verb {
	case link.VerbHome:
		st.Pos = coord.Point{}
	case link.VerbMove:
		if ok, x := cmd.Arg('X'); ok {
			st.Pos.X = x
		}
		if ok, y := cmd.Arg('Y'); ok {
			st.Pos.Y = y
		}
	case link.VerbToolPosition:
		st.Tool = bare(cmd)
	case link.VerbToolDelay:
		st.ToolDelay = bare(cmd)
	case link.VerbToolPower:
		st.Power = bare(cmd)
	case link.VerbToolRange:
		if ok, u := cmd.Arg('U'); ok {
			st.PenUp = int(u)
		}
		if ok, d := cmd.Arg('D'); ok {
			st.PenDown = int(d)
		}
	case link.VerbApplyConfig:
		if ok, a := cmd.Arg('A'); ok {
			st.MotorA = link.Direction(a)
		}
		if ok, b := cmd.Arg('B'); ok {
			st.MotorB = link.Direction(b)
		}
		if ok, h := cmd.Arg('H'); ok {
			st.Height = h
		}
		if ok, w := cmd.Arg('W'); ok {
			st.Width = w
		}
		if ok, sp := cmd.Arg('S'); ok {
			st.Speed = int(sp)
		}
	}
}

func (s *Simulator) report() link.EventSetupReport {
	st := s.state
	return link.EventSetupReport{
		Width: st.Width, Height: st.Height,
		X: st.Pos.X, Y: st.Pos.Y,
		MotorA: st.MotorA, MotorB: st.MotorB,
		HasSpeed: true, Speed: st.Speed,
		HasPenUp: true, PenUp: st.PenUp,
		HasPenDown: true, PenDown: st.PenDown,
	}
}

// Close stops all pending replies.
func (s *Simulator) Close() error {
	s.once.Do(func() {
		s.mx.Lock()
		close(s.closeCh)
		s.mx.Unlock()
		s.wg.Wait()
	})
	return nil
}
