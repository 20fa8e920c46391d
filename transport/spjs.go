package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SPJS is a connection to a serial port hosted by a Serial Port JSON Server.
type SPJS struct {
	url  string
	port string
	baud int

	outgoing chan message
	lines    chan string
	closeCh  chan struct{}
	once     sync.Once

	// partial line carried between data frames
	buf bytes.Buffer
}

var _ Transport = &SPJS{}

type message struct {
	done    chan struct{}
	payload []byte
}

// DataFrame carries bytes read from a serial port.
type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}

type ErrorMessage struct {
	Error string
}

type SerialPortList struct {
	SerialPorts []SerialPort
}

type SerialPort struct {
	Name     string
	Friendly string
	IsOpen   bool
	Baud     int
}

// NewSPJS connects to the server at url and relays lines of port. The
// connection is retried until Close is called.
func NewSPJS(url, port string, baud int) *SPJS {
	if baud == 0 {
		baud = DefaultBaud
	}
	sp := &SPJS{
		url:      url,
		port:     port,
		baud:     baud,
		outgoing: make(chan message, 100),
		lines:    make(chan string, 100),
		closeCh:  make(chan struct{}),
	}
	go sp.loop()
	return sp
}

func (sp *SPJS) Lines() <-chan string { return sp.lines }

func parseSPJSMessage(data []byte) (interface{}, error) {
	var msg map[string]json.RawMessage
	err := json.Unmarshal(data, &msg)
	if err != nil {
		return nil, err
	}

	var val interface{}
	switch {
	case msg["Error"] != nil:
		val = &ErrorMessage{}
	case msg["SerialPorts"] != nil:
		val = &SerialPortList{}
	case msg["D"] != nil && msg["P"] != nil:
		val = &DataFrame{}
	default:
		return nil, nil
	}
	err = json.Unmarshal(data, val)
	if err != nil {
		return nil, err
	}
	return val, nil
}

// feed appends data to the line buffer and emits every complete line.
func (sp *SPJS) feed(data string) {
	sp.buf.WriteString(data)
	for {
		b := sp.buf.Bytes()
		i := bytes.IndexAny(b, "\r\n")
		if i < 0 {
			return
		}
		line := strings.TrimSpace(string(b[:i]))
		sp.buf.Next(i + 1)
		if line == "" {
			continue
		}
		log.Debug().Str("line", line).Msg("recv")
		select {
		case sp.lines <- line:
		case <-sp.closeCh:
			return
		}
	}
}

func (sp *SPJS) handle(val interface{}) {
	switch msg := val.(type) {
	case *ErrorMessage:
		log.Error().Str("error", msg.Error).Msg("spjs")
	case *DataFrame:
		if msg.Port != sp.port {
			return
		}
		sp.feed(msg.Data)
	case *SerialPortList:
		for _, p := range msg.SerialPorts {
			if p.Name != sp.port || p.IsOpen {
				continue
			}
			log.Info().Str("port", sp.port).Msg("opening port")
			go sp.write(fmt.Sprintf("open %s %d", sp.port, sp.baud))
		}
	}
}

func (sp *SPJS) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Error().Err(err).Msg("spjs read")
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// echo of our own commands
			continue
		}
		val, err := parseSPJSMessage(data)
		if err != nil {
			log.Error().Err(err).Msg("spjs parse")
			continue
		}
		sp.handle(val)
	}
}

func (sp *SPJS) loop() {
	var nextUp message

reconnect:
	for {
		select {
		case <-sp.closeCh:
			return
		default:
		}

		log.Info().Str("url", sp.url).Msg("connecting")
		ws, _, err := websocket.DefaultDialer.Dial(sp.url, nil)
		if err != nil {
			log.Error().Err(err).Msg("spjs connect")
			select {
			case <-sp.closeCh:
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		log.Info().Msg("connected")
		ch := make(chan struct{})
		sp.buf.Reset()
		go sp.readLoop(ws, ch)
		go sp.write("list") // refresh list on reconnect

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					log.Error().Err(err).Msg("spjs send")
					ws.Close()
					<-ch
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-sp.closeCh:
				ws.Close()
				<-ch
				return
			case <-ch:
				ws.Close()
				continue reconnect
			case nextUp = <-sp.outgoing:
			}
		}
	}
}

func (sp *SPJS) write(data string) error {
	m := message{done: make(chan struct{}), payload: []byte(data)}
	select {
	case sp.outgoing <- m:
	case <-sp.closeCh:
		return io.ErrClosedPipe
	}
	select {
	case <-m.done:
		return nil
	case <-sp.closeCh:
		return io.ErrClosedPipe
	}
}

// Send queues line for the port and returns once it is written to the
// server.
func (sp *SPJS) Send(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.ContainsAny(line, "\r\n") {
		return errors.New("multi-line send")
	}
	return sp.write("send " + sp.port + " " + line)
}

func (sp *SPJS) Close() error {
	sp.once.Do(func() { close(sp.closeCh) })
	return nil
}
