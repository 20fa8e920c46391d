package link

import (
	"strconv"
	"strings"
)

// An Event is a parsed device reply.
type Event interface{ event() }

// EventAck confirms completion of the in-flight gating command.
//
// Verb is set when the firmware echoed the command verb, and empty
// for a bare `OK`.
type EventAck struct{ Verb Verb }

// EventSetupReport is the reply to VerbReadConfig.
type EventSetupReport struct {
	Width, Height float64

	// X, Y is the position reported by the firmware.
	X, Y float64

	MotorA, MotorB Direction

	HasSpeed bool
	Speed    int

	HasPenUp bool
	PenUp    int

	HasPenDown bool
	PenDown    int
}

// EventEndstopReport is the reply to VerbReadEndstops. Values are raw
// switch readings.
type EventEndstopReport struct {
	XMin, XMax, YMin, YMax int
}

// EventUnknown is any line that does not match the vocabulary.
type EventUnknown struct{ Data string }

func (EventAck) event()           {}
func (EventSetupReport) event()   {}
func (EventEndstopReport) event() {}
func (EventUnknown) event()       {}

// String encodes r the way the firmware reports it.
func (r EventSetupReport) String() string {
	parts := []string{
		string(VerbReadConfig), "XY",
		formatArg(r.Width, 0),
		formatArg(r.Height, 0),
		formatArg(r.X, 2),
		formatArg(r.Y, 2),
		"A" + strconv.Itoa(int(r.MotorA)),
		"B" + strconv.Itoa(int(r.MotorB)),
		"H0",
	}
	if r.HasSpeed {
		parts = append(parts, "S"+strconv.Itoa(r.Speed))
	}
	if r.HasPenUp {
		parts = append(parts, "U"+strconv.Itoa(r.PenUp))
	}
	if r.HasPenDown {
		parts = append(parts, "D"+strconv.Itoa(r.PenDown))
	}
	return strings.Join(parts, " ")
}

func (r EventEndstopReport) String() string {
	return string(VerbReadEndstops) + " " +
		strconv.Itoa(r.XMin) + " " + strconv.Itoa(r.XMax) + " " +
		strconv.Itoa(r.YMin) + " " + strconv.Itoa(r.YMax)
}
