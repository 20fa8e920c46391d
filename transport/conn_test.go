package transport

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeRW struct {
	*io.PipeReader

	mx  sync.Mutex
	out bytes.Buffer
}

func (p *pipeRW) Write(b []byte) (int, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.out.Write(b)
}

func (p *pipeRW) String() string {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.out.String()
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case l, ok := <-ch:
		require.True(t, ok, "channel closed")
		return l
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for line")
	}
	return ""
}

func TestConn_Lines(t *testing.T) {
	r, w := io.Pipe()
	c := NewConn(&pipeRW{PipeReader: r})

	go func() {
		io.WriteString(w, "OK\r\nM10 XY 380 310 0.00 0.00 A0 B0 H0\n\nM1")
		io.WriteString(w, "1 0 1 0 1\n")
		w.Close()
	}()

	assert.Equal(t, "OK", recv(t, c.Lines()))
	assert.Equal(t, "M10 XY 380 310 0.00 0.00 A0 B0 H0", recv(t, c.Lines()))
	assert.Equal(t, "M11 0 1 0 1", recv(t, c.Lines()))

	_, ok := <-c.Lines()
	assert.False(t, ok)
	assert.NoError(t, c.Err())
}

func TestConn_Send(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	rw := &pipeRW{PipeReader: r}
	c := NewConn(rw)

	assert.NoError(t, c.Send("M1 90"))
	assert.NoError(t, c.Send("G28\n"))
	assert.Equal(t, "M1 90\nG28\n", rw.String())

	assert.NoError(t, c.Close())
	assert.Equal(t, io.ErrClosedPipe, c.Send("M10"))
	assert.NoError(t, c.Close())
}
