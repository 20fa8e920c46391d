package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/mastercactapus/xybot/coord"
	"github.com/mastercactapus/xybot/job"
	"github.com/mastercactapus/xybot/link"
	"github.com/mastercactapus/xybot/robot"
	"github.com/rs/zerolog/log"
)

type api struct {
	http.Handler
	ctx     context.Context
	r       *robot.Robot
	run     *job.Runner
	dev     *device
	dataDir string
	sse     *sse.Server

	watchMx   sync.Mutex
	stopWatch context.CancelFunc
}

// endstopInterval is the default poll rate of an endstop watch.
const endstopInterval = 200 * time.Millisecond

// jobRequest is the body of POST /api/job and the format of stored jobs.
type jobRequest struct {
	Mode  job.Mode        `json:"mode"`
	Paths json.RawMessage `json:"paths"`

	// Origin, when set, treats paths as canvas coordinates with Y growing
	// downward.
	Origin *coord.Point `json:"origin"`

	// LaserPower in percent.
	LaserPower int  `json:"laserPower"`
	BurnDelay  *int `json:"burnDelay"`
}

type stateResponse struct {
	State    robot.State  `json:"state"`
	Position coord.Point  `json:"position"`
	Moving   bool         `json:"moving"`
	Job      job.RunState `json:"job"`
}

func newAPI(ctx context.Context, r *robot.Robot, run *job.Runner, dev *device, dir string) *api {
	m := mux.NewRouter()

	a := &api{
		Handler: m,
		ctx:     ctx,
		r:       r,
		run:     run,
		dev:     dev,
		dataDir: dir,
		sse: sse.NewServer(&sse.Options{
			Logger: stdlog.New(log.With().Str("component", "sse").Logger(), "", 0),
		}),
	}

	fs := http.FileServer(http.Dir(dir))
	m.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	m.HandleFunc("/api/state", a.state).Methods("GET")
	m.HandleFunc("/api/job", a.startJob).Methods("POST")
	m.HandleFunc("/api/job/{action:pause|resume|cancel}", a.jobAction).Methods("POST")
	m.HandleFunc("/api/home", a.home).Methods("POST")
	m.HandleFunc("/api/move", a.move).Methods("POST")
	m.HandleFunc("/api/tool", a.tool).Methods("POST")
	m.HandleFunc("/api/reset", a.reset).Methods("POST")
	m.HandleFunc("/api/setup", a.getSetup).Methods("GET")
	m.HandleFunc("/api/setup", a.putSetup).Methods("PUT")
	m.HandleFunc("/api/setup/read", a.readSetup).Methods("POST")
	m.HandleFunc("/api/endstops", a.endstops).Methods("POST")
	m.HandleFunc("/api/endstops/watch", a.watchEndstops).Methods("POST")
	m.HandleFunc("/api/endstops/watch", a.unwatchEndstops).Methods("DELETE")

	m.PathPrefix("/events/").Handler(a.sse)

	return a
}

func (a *api) send(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal json")
		return
	}
	a.sse.SendMessage("/events/"+channel, sse.SimpleMessage(string(data)))
}

// forward relays robot and job events to the event stream until ctx is done.
func (a *api) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-a.r.Events():
			switch e := e.(type) {
			case robot.EventState:
				a.send("state", e)
			case robot.EventSetup:
				a.send("setup", e.Config)
			case robot.EventEndstops:
				a.send("endstops", e)
			case robot.EventReconnect:
				a.send("reconnect", e)
				a.dev.Reconnect()
			}
		case e := <-a.run.Events():
			switch e := e.(type) {
			case job.EventProgress:
				a.send("progress", e)
			case job.EventState:
				a.send("job", e)
			case job.EventDone:
				msg := struct {
					job.EventDone
					Error string `json:"error,omitempty"`
				}{EventDone: e}
				if e.Err != nil {
					msg.Error = e.Err.Error()
				}
				a.send("done", msg)
			}
		}
	}
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		log.Warn().Str("path", name).Msg("invalid path")
		return false, ""
	}
	dir := base
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Error().Err(err).Msg("encode")
	}
}

// httpError maps robot and job errors to a status code.
func httpError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, robot.ErrBusy), errors.Is(err, robot.ErrFault), errors.Is(err, job.ErrRunning):
		code = http.StatusConflict
	case errors.Is(err, robot.ErrOutOfBounds), errors.Is(err, robot.ErrInvalidConfig), errors.Is(err, job.ErrEmpty):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), code)
}

func (a *api) state(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, stateResponse{
		State:    a.r.State(),
		Position: a.r.Position(),
		Moving:   a.r.Moving(),
		Job:      a.run.State(),
	})
}

func (a *api) startJob(w http.ResponseWriter, req *http.Request) {
	body := io.Reader(req.Body)
	if name := req.FormValue("name"); name != "" {
		ok, file := safePath(a.dataDir, name)
		if !ok {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f, err := os.Open(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		defer f.Close()
		body = f
	}

	var jr jobRequest
	err := json.NewDecoder(body).Decode(&jr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	j, err := job.ParseJob(jr.Paths)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := a.r.Config()
	opt := job.Options{
		Mode:       jr.Mode,
		PenUp:      cfg.PenUp,
		PenDown:    cfg.PenDown,
		LaserPower: jr.LaserPower * link.MaxToolPower / 100,
		BurnDelay:  cfg.LaserBurnDelay,
	}
	if jr.BurnDelay != nil {
		opt.BurnDelay = *jr.BurnDelay
	}
	if jr.Origin != nil {
		opt.Transform = job.CanvasTransform(*jr.Origin, cfg.Height)
	}

	// the job outlives the request
	err = a.run.Start(a.ctx, j, opt)
	if err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) jobAction(w http.ResponseWriter, req *http.Request) {
	switch mux.Vars(req)["action"] {
	case "pause":
		a.run.Pause()
	case "resume":
		a.run.Resume()
	case "cancel":
		a.run.Cancel()
	}
	writeJSON(w, job.EventState{State: a.run.State()})
}

func (a *api) home(w http.ResponseWriter, req *http.Request) {
	err := a.r.Home()
	if err != nil {
		httpError(w, err)
	}
}

func (a *api) move(w http.ResponseWriter, req *http.Request) {
	var err error
	parse := func(param string) (val float64) {
		if err != nil {
			return 0
		}
		val, err = strconv.ParseFloat(req.FormValue(param), 64)
		return val
	}
	p := coord.Point{X: parse("x"), Y: parse("y")}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, err = a.r.MoveTo(p)
	if err != nil {
		httpError(w, err)
	}
}

func (a *api) tool(w http.ResponseWriter, req *http.Request) {
	pos, err := strconv.Atoi(req.FormValue("pos"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, err = a.r.SetTool(pos)
	if err != nil {
		httpError(w, err)
	}
}

func (a *api) reset(w http.ResponseWriter, req *http.Request) {
	a.r.Reset()
}

func (a *api) getSetup(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, a.r.Config())
}

func (a *api) putSetup(w http.ResponseWriter, req *http.Request) {
	cfg := a.r.Config()
	err := json.NewDecoder(req.Body).Decode(&cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cur := a.r.Config()
	if cfg.PenUp != cur.PenUp || cfg.PenDown != cur.PenDown {
		t, err := a.r.SetToolRange(cfg.PenUp, cfg.PenDown)
		if err == nil {
			err = a.r.Wait(req.Context(), t)
		}
		if err != nil {
			httpError(w, err)
			return
		}
	}
	_, err = a.r.ApplyConfig(cfg)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, cfg)
}

func (a *api) readSetup(w http.ResponseWriter, req *http.Request) {
	err := a.r.RequestConfig()
	if err != nil {
		httpError(w, err)
	}
}

func (a *api) endstops(w http.ResponseWriter, req *http.Request) {
	err := a.r.RequestEndstops()
	if err != nil {
		httpError(w, err)
	}
}

// watchEndstops polls the endstops until stopped or the server shuts down.
// The optional interval form value is in ms.
func (a *api) watchEndstops(w http.ResponseWriter, req *http.Request) {
	interval := endstopInterval
	if v := req.FormValue("interval"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			http.Error(w, "invalid interval", http.StatusBadRequest)
			return
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	ctx, cancel := context.WithCancel(a.ctx)
	a.watchMx.Lock()
	if a.stopWatch != nil {
		a.stopWatch()
	}
	a.stopWatch = cancel
	a.watchMx.Unlock()

	log.Info().Dur("interval", interval).Msg("endstop watch started")
	go func() {
		err := a.r.WatchEndstops(ctx, interval)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("endstop watch")
		}
	}()
}

func (a *api) unwatchEndstops(w http.ResponseWriter, req *http.Request) {
	a.watchMx.Lock()
	defer a.watchMx.Unlock()
	if a.stopWatch == nil {
		return
	}
	a.stopWatch()
	a.stopWatch = nil
	log.Info().Msg("endstop watch stopped")
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("create")
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("write")
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("delete")
		http.Error(w, err.Error(), 500)
		return
	}
}
