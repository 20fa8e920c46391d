package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mastercactapus/xybot/robot"
	"github.com/mastercactapus/xybot/transport"
	"github.com/rs/zerolog/log"
)

var errNotConnected = errors.New("not connected")

// device owns the transport of a robot and reopens it on request.
type device struct {
	open func() (transport.Transport, error)

	mx sync.Mutex
	tr transport.Transport

	reconnect chan struct{}
}

func newDevice(open func() (transport.Transport, error)) *device {
	return &device{
		open:      open,
		reconnect: make(chan struct{}, 1),
	}
}

func (d *device) Send(line string) error {
	d.mx.Lock()
	tr := d.tr
	d.mx.Unlock()
	if tr == nil {
		return errNotConnected
	}
	return tr.Send(line)
}

// Reconnect closes the current transport; serve opens a new one.
func (d *device) Reconnect() {
	select {
	case d.reconnect <- struct{}{}:
	default:
	}
}

func (d *device) connect() (transport.Transport, error) {
	tr, err := d.open()
	if err != nil {
		return nil, err
	}
	d.mx.Lock()
	d.tr = tr
	d.mx.Unlock()
	return tr, nil
}

func (d *device) disconnect() {
	d.mx.Lock()
	tr := d.tr
	d.tr = nil
	d.mx.Unlock()
	if tr != nil {
		tr.Close()
	}
}

// serve feeds r from the transport until ctx is done. The configuration is
// read back on every connect.
func (d *device) serve(ctx context.Context, r *robot.Robot) {
	defer d.disconnect()
	for {
		tr, err := d.connect()
		if err != nil {
			log.Error().Err(err).Msg("connect")
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		log.Info().Msg("device connected")

		sctx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-d.reconnect:
				log.Info().Msg("reconnecting")
			case <-sctx.Done():
			}
			cancel()
		}()

		err = r.RequestConfig()
		if err != nil {
			log.Error().Err(err).Msg("request config")
		}
		r.Serve(sctx, tr.Lines())
		cancel()
		d.disconnect()

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
