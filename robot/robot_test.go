package robot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mastercactapus/xybot/coord"
	"github.com/mastercactapus/xybot/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mx    sync.Mutex
	lines []string
	err   error
}

func (f *fakeSender) Send(line string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.err != nil {
		return f.err
	}
	f.lines = append(f.lines, line)
	return nil
}
func (f *fakeSender) Lines() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.lines...)
}

func drain(r *Robot) []Event {
	var res []Event
	for {
		select {
		case e := <-r.Events():
			res = append(res, e)
		default:
			return res
		}
	}
}

func newTestRobot() (*Robot, *fakeSender) {
	s := &fakeSender{}
	return New(s, Options{AckTimeout: time.Second, StepInterval: time.Millisecond}), s
}

func TestRobot_SingleInFlight(t *testing.T) {
	r, s := newTestRobot()
	assert.Equal(t, StateIdle, r.State())

	tk, err := r.Submit(link.ToolPosition(50))
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Equal(t, StateBusy, r.State())

	_, err = r.Submit(link.Move(10, 10))
	assert.Equal(t, ErrBusy, err)
	_, err = r.Submit(link.ToolPower(10))
	assert.Equal(t, ErrBusy, err)
	assert.Equal(t, []string{"M1 50\n"}, s.Lines())

	r.HandleLine("OK")
	assert.Equal(t, StateIdle, r.State())
	select {
	case <-tk.Done():
		assert.NoError(t, tk.Err())
	default:
		t.Fatal("ticket not completed")
	}

	assert.Equal(t, []Event{EventState{State: StateBusy}, EventState{State: StateIdle}}, drain(r))
}

func TestRobot_SingleInFlightConcurrent(t *testing.T) {
	r, s := newTestRobot()

	var wg sync.WaitGroup
	var mx sync.Mutex
	var accepted int
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Submit(link.ToolDelay(5))
			if err == nil {
				mx.Lock()
				accepted++
				mx.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Len(t, s.Lines(), 1)
}

func TestRobot_NonGating(t *testing.T) {
	r, s := newTestRobot()

	_, err := r.Submit(link.Move(1, 1))
	require.NoError(t, err)

	tk, err := r.Submit(link.ReadEndstops())
	assert.NoError(t, err)
	assert.Nil(t, tk)
	assert.NoError(t, r.RequestConfig())
	assert.Equal(t, []string{"G1 X1.00 Y1.00\n", "M11\n", "M10\n"}, s.Lines())

	// endstop replies do not clear Busy
	r.HandleLine("M11 0 0 1 1")
	assert.Equal(t, StateBusy, r.State())
	assert.Contains(t, drain(r), Event(EventEndstops{XMin: 0, XMax: 0, YMin: 1, YMax: 1}))
}

func TestRobot_OutOfBounds(t *testing.T) {
	r, s := newTestRobot()

	for _, p := range []coord.Point{{X: -1, Y: 0}, {X: 0, Y: 311}, {X: 381, Y: 5}} {
		_, err := r.Submit(link.Move(p.X, p.Y))
		assert.Equal(t, ErrOutOfBounds, err)
		_, err = r.MoveTo(p)
		assert.Equal(t, ErrOutOfBounds, err)
	}
	assert.Empty(t, s.Lines())
	assert.Equal(t, StateIdle, r.State())
	assert.Empty(t, drain(r))
}

func TestRobot_MoveAckSetsPosition(t *testing.T) {
	r, _ := newTestRobot()

	tk, err := r.Submit(link.MoveDelay(12.5, 40, 0))
	require.NoError(t, err)
	assert.Equal(t, coord.Point{}, r.Position())

	r.HandleLine("OK")
	<-tk.Done()
	assert.Equal(t, coord.Point{X: 12.5, Y: 40}, r.Position())
}

func TestRobot_MoveTo(t *testing.T) {
	r, s := newTestRobot()

	tk, err := r.MoveTo(coord.Point{X: 20, Y: 6})
	require.NoError(t, err)
	assert.Equal(t, []string{"G1 X20.00 Y6.00\n"}, s.Lines())

	assert.Eventually(t, func() bool { return !r.Moving() }, time.Second, time.Millisecond)
	assert.Equal(t, coord.Point{X: 20, Y: 6}, r.Position())

	r.HandleLine("OK")
	<-tk.Done()
	assert.Equal(t, coord.Point{X: 20, Y: 6}, r.Position())
	assert.Equal(t, StateIdle, r.State())
}

func TestRobot_EchoAck(t *testing.T) {
	r, _ := newTestRobot()

	tk, err := r.SetToolPower(200)
	require.NoError(t, err)

	r.HandleLine("G1 X0 Y0")
	assert.Equal(t, StateBusy, r.State(), "mismatched echo is ignored")

	r.HandleLine("M4 200")
	assert.Equal(t, StateIdle, r.State())
	<-tk.Done()
}

func TestRobot_UnsolicitedAck(t *testing.T) {
	r, _ := newTestRobot()
	r.HandleLine("OK")
	assert.Equal(t, StateIdle, r.State())
	assert.Empty(t, drain(r))
}

func TestRobot_AckTimeout(t *testing.T) {
	s := &fakeSender{}
	r := New(s, Options{AckTimeout: 10 * time.Millisecond})

	err := r.Do(context.Background(), link.ToolPosition(90))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, StateFault, r.State())

	_, err = r.Submit(link.ToolPosition(90))
	assert.Equal(t, ErrFault, err)
	assert.Equal(t, ErrFault, r.Home())
	assert.Len(t, s.Lines(), 1)

	// the late reply clears the fault
	r.HandleLine("OK")
	assert.Equal(t, StateIdle, r.State())
}

func TestRobot_WaitCanceled(t *testing.T) {
	r, _ := newTestRobot()
	tk, err := r.SetToolDelay(3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.Wait(ctx, tk)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateBusy, r.State(), "command is still in flight")

	r.HandleLine("OK")
	assert.Equal(t, StateIdle, r.State())
}

func TestRobot_SendFailure(t *testing.T) {
	s := &fakeSender{err: errors.New("port closed")}
	r := New(s, Options{})

	_, err := r.SetTool(10)
	assert.Error(t, err)
	assert.Equal(t, StateFault, r.State())

	r.Reset()
	assert.Equal(t, StateIdle, r.State())
}

func TestRobot_Reset(t *testing.T) {
	r, _ := newTestRobot()
	tk, err := r.SetTool(10)
	require.NoError(t, err)

	r.Reset()
	<-tk.Done()
	assert.Equal(t, ErrReset, tk.Err())
	assert.Equal(t, StateIdle, r.State())
}

func TestRobot_Home(t *testing.T) {
	r, s := newTestRobot()

	tk, err := r.Submit(link.Move(30, 30))
	require.NoError(t, err)
	assert.Equal(t, ErrBusy, r.Home())
	r.HandleLine("OK")
	<-tk.Done()
	assert.Equal(t, coord.Point{X: 30, Y: 30}, r.Position())

	require.NoError(t, r.Home())
	assert.Equal(t, coord.Point{}, r.Position())
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, "G28\n", s.Lines()[1])
}

func TestRobot_Serve(t *testing.T) {
	r, _ := newTestRobot()
	lines := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- r.Serve(ctx, lines) }()

	go func() {
		time.Sleep(5 * time.Millisecond)
		lines <- "OK"
	}()
	assert.NoError(t, r.Do(ctx, link.ToolPosition(2)))

	close(lines)
	assert.NoError(t, <-errCh)
}

// ackingSender acknowledges every line before Send returns.
type ackingSender struct{ r *Robot }

func (a *ackingSender) Send(line string) error {
	a.r.HandleLine("OK")
	return nil
}

func TestRobot_MoveToImmediateAck(t *testing.T) {
	s := &ackingSender{}
	r := New(s, Options{AckTimeout: time.Second, StepInterval: time.Millisecond})
	s.r = r

	tk, err := r.MoveTo(coord.Point{X: 100, Y: 0})
	require.NoError(t, err)
	<-tk.Done()

	last := r.Position().X
	for r.Moving() {
		x := r.Position().X
		assert.True(t, x >= last, "position went backwards from %v to %v", last, x)
		last = x
	}
	assert.Equal(t, coord.Point{X: 100, Y: 0}, r.Position())
	assert.Equal(t, StateIdle, r.State())
}

func TestRobot_MoveToBusy(t *testing.T) {
	r, s := newTestRobot()
	_, err := r.SetTool(10)
	require.NoError(t, err)

	_, err = r.MoveTo(coord.Point{X: 50, Y: 50})
	assert.Equal(t, ErrBusy, err)
	assert.False(t, r.Moving())
	assert.Equal(t, coord.Point{}, r.Position())
	assert.Len(t, s.Lines(), 1)
}
