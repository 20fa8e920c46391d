// Package transport moves command lines between the robot and the plotter
// firmware over a serial port, a Serial Port JSON Server, or an in-process
// simulator.
package transport

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// A Transport sends single lines and delivers received lines.
type Transport interface {
	Send(line string) error
	Lines() <-chan string
	Close() error
}

// Conn is a line connection over a byte stream.
type Conn struct {
	rw io.ReadWriter

	mx    sync.Mutex
	lines chan string

	closeCh   chan struct{}
	closeOnce sync.Once

	errMx sync.Mutex
	err   error
}

var _ Transport = &Conn{}

// NewConn starts reading lines from rw.
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		rw:      rw,
		lines:   make(chan string, 100),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (c *Conn) readLoop() {
	defer close(c.lines)

	scan := bufio.NewScanner(c.rw)
	scan.Split(splitLines)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		log.Debug().Str("line", line).Msg("recv")
		select {
		case c.lines <- line:
		case <-c.closeCh:
			return
		}
	}

	err := scan.Err()
	if err != nil {
		select {
		case <-c.closeCh:
		default:
			log.Error().Err(err).Msg("read from port")
		}
	}
	c.errMx.Lock()
	c.err = err
	c.errMx.Unlock()
}

// Lines is closed when the underlying reader fails or reaches EOF.
func (c *Conn) Lines() <-chan string { return c.lines }

// Err returns the error that ended the read loop, if any.
func (c *Conn) Err() error {
	c.errMx.Lock()
	defer c.errMx.Unlock()
	return c.err
}

// Send writes line, adding the terminating newline if missing.
func (c *Conn) Send(line string) error {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	default:
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	_, err := io.WriteString(c.rw, line)
	return err
}

// Close closes the underlying ReadWriter, if it implements io.Closer.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}
