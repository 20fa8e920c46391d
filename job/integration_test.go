package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mastercactapus/xybot/coord"
	"github.com/mastercactapus/xybot/job"
	"github.com/mastercactapus/xybot/robot"
	"github.com/mastercactapus/xybot/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, opt transport.SimOptions, ackTimeout time.Duration) (*robot.Robot, *transport.Simulator) {
	t.Helper()
	sim := transport.NewSimulator(opt)
	r := robot.New(sim, robot.Options{AckTimeout: ackTimeout})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Serve(ctx, sim.Lines())
	t.Cleanup(func() {
		cancel()
		sim.Close()
	})
	return r, sim
}

func TestRunner_Simulator(t *testing.T) {
	r, sim := setup(t, transport.SimOptions{Delay: time.Millisecond, Echo: true}, time.Second)
	run := job.NewRunner(r)

	j := job.Job{
		{{X: 10, Y: 10}, {X: 20, Y: 10}, {X: 20, Y: 20}},
		{{X: 50, Y: 50}, {X: 500, Y: 50}, {X: 60, Y: 60}},
	}
	opt := job.Options{PenUp: 130, PenDown: 50, Settle: time.Millisecond}
	require.NoError(t, run.Start(context.Background(), j, opt))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	require.NoError(t, err)

	// the point outside the drawing area is skipped without reaching the device
	assert.Equal(t, job.EventDone{Paths: 2, Skipped: 1}, res)
	assert.Equal(t, []string{
		"G1 X10.00 Y10.00 A0", "M1 50", "G1 X20.00 Y10.00 A0", "G1 X20.00 Y20.00 A0", "M1 130",
		"G1 X50.00 Y50.00 A0", "M1 50", "G1 X60.00 Y60.00 A0", "M1 130",
	}, sim.Sent())
	assert.Equal(t, coord.Point{X: 60, Y: 60}, r.Position())
	assert.Equal(t, robot.StateIdle, r.State())
}

func TestRunner_SimulatorTimeout(t *testing.T) {
	r, sim := setup(t, transport.SimOptions{Drop: true}, 20*time.Millisecond)
	run := job.NewRunner(r)

	opt := job.Options{Settle: time.Millisecond}
	require.NoError(t, run.Start(context.Background(), job.Job{{{X: 1, Y: 1}, {X: 2, Y: 2}}}, opt))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	require.NoError(t, err)

	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.Equal(t, robot.StateFault, r.State())
	assert.Len(t, sim.Sent(), 1)
}

func TestRunner_SimulatorSetupReportMidJob(t *testing.T) {
	r, sim := setup(t, transport.SimOptions{Drop: true}, 100*time.Millisecond)
	run := job.NewRunner(r)

	j := job.Job{{{X: 10, Y: 10}, {X: 20, Y: 10}, {X: 30, Y: 10}}}
	require.NoError(t, run.Start(context.Background(), j, job.Options{Settle: time.Millisecond}))

	require.Eventually(t, func() bool { return len(sim.Sent()) == 1 }, time.Second, time.Millisecond)
	for i := 0; i < 3; i++ {
		r.HandleLine("M10 XY 380 310 0 0 A0 B0")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	require.NoError(t, err)

	// the unacknowledged move is never followed by another command
	assert.Equal(t, []string{"G1 X10.00 Y10.00 A0"}, sim.Sent())
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}
