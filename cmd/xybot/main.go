package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mastercactapus/xybot/job"
	"github.com/mastercactapus/xybot/robot"
	"github.com/mastercactapus/xybot/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// simLink keeps a simulator alive across reconnects.
type simLink struct{ *transport.Simulator }

func (simLink) Close() error { return nil }

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "Port path (or name if using SPJS).")
	baud := flag.Int("baud", transport.DefaultBaud, "Serial baud rate.")
	spjsURL := flag.String("spjs", "", "Websocket URL of the SPJS server to use, e.g. ws://localhost:8989/ws.")
	simulate := flag.Bool("simulate", false, "Use an in-process simulated plotter.")
	addr := flag.String("addr", ":9091", "Address to bind the xybot server to.")
	dir := flag.String("dir", "./data", "Data directory to use.")
	ackTimeout := flag.Duration("ack-timeout", robot.DefaultAckTimeout, "Time to wait for each command acknowledgment.")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error).")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		log.Fatal().Err(err).Msg("parse log level")
	}
	zerolog.SetGlobalLevel(lvl)

	var open func() (transport.Transport, error)
	switch {
	case *simulate:
		sim := transport.NewSimulator(transport.SimOptions{Delay: 50 * time.Millisecond})
		defer sim.Close()
		open = func() (transport.Transport, error) { return simLink{sim}, nil }
	case *spjsURL != "":
		open = func() (transport.Transport, error) {
			return transport.NewSPJS(*spjsURL, *port, *baud), nil
		}
	default:
		open = func() (transport.Transport, error) {
			return transport.OpenSerial(transport.SerialConfig{Name: *port, Baud: *baud})
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dev := newDevice(open)
	r := robot.New(dev, robot.Options{AckTimeout: *ackTimeout})
	run := job.NewRunner(r)
	go dev.serve(ctx, r)

	a := newAPI(ctx, r, run, dev, *dir)
	go a.forward(ctx)

	srv := &http.Server{
		Addr: *addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Str("remote", req.RemoteAddr).Msg("request")
			a.ServeHTTP(w, req)
		}),
	}
	go func() {
		<-ctx.Done()
		run.Cancel()
		a.sse.Shutdown()
		srv.Close()
	}()

	log.Info().Str("addr", *addr).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("serve")
	}
}
