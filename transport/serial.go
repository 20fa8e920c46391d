package transport

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is the rate the plotter firmware listens at.
const DefaultBaud = 115200

// SerialConfig selects a local serial port.
type SerialConfig struct {
	// Name is the device path, e.g. /dev/ttyUSB0 or COM3.
	Name string
	Baud int

	// ReadTimeout of zero blocks until data arrives.
	ReadTimeout time.Duration
}

// OpenSerial opens a serial port and wraps it in a Conn.
func OpenSerial(cfg SerialConfig) (*Conn, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Name, err)
	}
	return NewConn(port), nil
}
