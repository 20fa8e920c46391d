package robot

import (
	"context"
	"time"

	"github.com/mastercactapus/xybot/link"
	"github.com/rs/zerolog/log"
)

// RequestConfig asks the device to report its configuration.
func (r *Robot) RequestConfig() error {
	_, err := r.Submit(link.ReadConfig())
	return err
}

// RequestEndstops asks the device to report its endstop switches.
func (r *Robot) RequestEndstops() error {
	_, err := r.Submit(link.ReadEndstops())
	return err
}

// WatchEndstops requests an endstop report every interval until ctx is done.
func (r *Robot) WatchEndstops(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		err := r.RequestEndstops()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// ApplyConfig validates cfg and writes it to the device. The caller is
// expected to reconnect the transport once EventReconnect is received.
func (r *Robot) ApplyConfig(cfg Config) (*Ticket, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	t, err := r.Submit(cfg.Command())
	if err != nil {
		return nil, err
	}

	r.mx.Lock()
	r.cfg = cfg
	r.mx.Unlock()

	r.publish(EventSetup{Config: cfg})
	r.publish(EventReconnect{})
	return t, nil
}

// SetToolRange writes the pen up and down servo positions.
func (r *Robot) SetToolRange(up, down int) (*Ticket, error) {
	r.mx.Lock()
	cfg := r.cfg
	r.mx.Unlock()
	cfg.PenUp, cfg.PenDown = up, down
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	t, err := r.Submit(link.ToolRange(up, down))
	if err != nil {
		return nil, err
	}

	r.mx.Lock()
	r.cfg.PenUp, r.cfg.PenDown = up, down
	r.mx.Unlock()
	return t, nil
}

// applyReport takes over the device configuration. A report after an
// apply-config means the firmware restarted with it, so that command is
// released; any other pending command keeps waiting for its own ack.
func (r *Robot) applyReport(e link.EventSetupReport) {
	r.mx.Lock()
	r.cfg.Width = e.Width
	r.cfg.Height = e.Height
	r.cfg.MotorA = e.MotorA
	r.cfg.MotorB = e.MotorB
	if e.HasSpeed {
		r.cfg.Speed = e.Speed
	}
	if e.HasPenUp {
		r.cfg.PenUp = e.PenUp
	}
	if e.HasPenDown {
		r.cfg.PenDown = e.PenDown
	}
	cfg := r.cfg
	t := r.pending
	if t == nil || t.Cmd.Verb == link.VerbApplyConfig {
		r.pending = nil
		r.setState(StateIdle)
	} else {
		t = nil
	}
	r.mx.Unlock()

	if t != nil {
		t.finish(nil)
	}
	log.Info().
		Float64("width", cfg.Width).
		Float64("height", cfg.Height).
		Int("speed", cfg.Speed).
		Msg("device config")
	r.publish(EventSetup{Config: cfg})
}
