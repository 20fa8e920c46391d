package robot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mastercactapus/xybot/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobot_SetupReport(t *testing.T) {
	r, _ := newTestRobot()

	// a pending apply-config is released by the report
	cfg := DefaultConfig()
	cfg.Width = 300
	tk, err := r.ApplyConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, StateBusy, r.State())

	r.HandleLine("M10 XY 200 150 0.00 0.00 A1 B0 H0 S80 U120 D40")
	<-tk.Done()
	assert.NoError(t, tk.Err())
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, Config{
		Width: 200, Height: 150,
		MotorA: link.CounterClockwise, MotorB: link.Clockwise,
		Speed: 80, PenUp: 120, PenDown: 40,
	}, r.Config())

	events := drain(r)
	assert.Contains(t, events, Event(EventReconnect{}))
	assert.Equal(t, EventSetup{Config: r.Config()}, events[len(events)-1])
}

func TestRobot_SetupReportPartial(t *testing.T) {
	r, _ := newTestRobot()

	r.HandleLine("M10 XY 250 200 0 0 A0 B1")
	cfg := r.Config()
	assert.Equal(t, 250.0, cfg.Width)
	assert.Equal(t, 200.0, cfg.Height)
	assert.Equal(t, link.CounterClockwise, cfg.MotorB)
	assert.Equal(t, DefaultConfig().Speed, cfg.Speed)
	assert.Equal(t, DefaultConfig().PenUp, cfg.PenUp)
}

func TestRobot_SetupReportMalformed(t *testing.T) {
	r, _ := newTestRobot()
	before := r.Config()

	r.HandleLine("M10 XY abc")
	assert.Equal(t, before, r.Config())
	assert.Empty(t, drain(r))
}

func TestRobot_SetupReportRoundTrip(t *testing.T) {
	r, s := newTestRobot()
	line := "M10 XY 320 280 0.00 0.00 A1 B1 H0 S70"
	r.HandleLine(line)
	cfg := r.Config()

	_, err := r.ApplyConfig(cfg)
	require.NoError(t, err)

	sent, err := link.ParseCommand(s.Lines()[0])
	require.NoError(t, err)
	_, h := sent.Arg('H')
	_, w := sent.Arg('W')
	_, a := sent.Arg('A')
	_, b := sent.Arg('B')
	_, sp := sent.Arg('S')
	assert.Equal(t, cfg.Height, h)
	assert.Equal(t, cfg.Width, w)
	assert.Equal(t, float64(cfg.MotorA), a)
	assert.Equal(t, float64(cfg.MotorB), b)
	assert.Equal(t, float64(cfg.Speed), sp)
}

func TestRobot_ApplyConfigInvalid(t *testing.T) {
	r, s := newTestRobot()

	bad := []func(*Config){
		func(c *Config) { c.Width = 0 },
		func(c *Config) { c.Speed = 101 },
		func(c *Config) { c.MotorA = 3 },
		func(c *Config) { c.PenDown = -1 },
		func(c *Config) { c.LaserBurnDelay = -5 },
	}
	for _, mod := range bad {
		cfg := DefaultConfig()
		mod(&cfg)
		_, err := r.ApplyConfig(cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), err)
	}
	assert.Empty(t, s.Lines())
	assert.Equal(t, DefaultConfig(), r.Config())
}

func TestRobot_ApplyConfigBusy(t *testing.T) {
	r, s := newTestRobot()
	_, err := r.SetTool(1)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Speed = 10
	_, err = r.ApplyConfig(cfg)
	assert.Equal(t, ErrBusy, err)
	assert.Equal(t, 50, r.Config().Speed)
	assert.Len(t, s.Lines(), 1)
}

func TestRobot_SetToolRange(t *testing.T) {
	r, s := newTestRobot()

	tk, err := r.SetToolRange(140, 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"M2 U140 D30\n"}, s.Lines())
	assert.Equal(t, 140, r.Config().PenUp)
	assert.Equal(t, 30, r.Config().PenDown)
	r.HandleLine("OK")
	<-tk.Done()

	_, err = r.SetToolRange(200, 30)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestRobot_WatchEndstops(t *testing.T) {
	r, s := newTestRobot()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := r.WatchEndstops(ctx, 5*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	lines := s.Lines()
	assert.True(t, len(lines) >= 2)
	for _, l := range lines {
		assert.Equal(t, "M11\n", l)
	}
}

func TestRobot_SetupReportKeepsPendingMove(t *testing.T) {
	r, s := newTestRobot()

	tk, err := r.Submit(link.Move(10, 10))
	require.NoError(t, err)

	r.HandleLine("M10 XY 380 310 0 0 A0 B0")
	assert.Equal(t, StateBusy, r.State())
	select {
	case <-tk.Done():
		t.Fatal("move released without its acknowledgment")
	default:
	}
	_, err = r.SetTool(50)
	assert.Equal(t, ErrBusy, err)
	assert.Len(t, s.Lines(), 1)

	r.HandleLine("OK")
	<-tk.Done()
	assert.NoError(t, tk.Err())
	assert.Equal(t, StateIdle, r.State())
}

func TestRobot_SetupReportClearsFault(t *testing.T) {
	s := &fakeSender{}
	r := New(s, Options{AckTimeout: time.Millisecond})
	err := r.Do(context.Background(), link.ToolPosition(10))
	require.Error(t, err)
	assert.Equal(t, StateFault, r.State())

	r.HandleLine("M10 XY 380 310 0 0 A0 B0")
	assert.Equal(t, StateIdle, r.State())
}
