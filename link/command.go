// Package link implements the line protocol spoken by the XY plotter firmware.
//
// Commands are single ASCII lines of the form `<VERB> [<KEY><value>]*`.
// Replies are classified into typed events by Decode.
package link

import (
	"errors"
	"strings"
)

// A Verb is the leading token of a command line.
type Verb string

const (
	VerbHome         Verb = "G28"
	VerbMove         Verb = "G1"
	VerbToolPosition Verb = "M1"
	VerbToolRange    Verb = "M2"
	VerbToolDelay    Verb = "M3"
	VerbToolPower    Verb = "M4"
	VerbApplyConfig  Verb = "M5"
	VerbReadConfig   Verb = "M10"
	VerbReadEndstops Verb = "M11"
)

// MaxToolPower is the full-scale laser power value.
const MaxToolPower = 255

// ErrUnknownVerb is returned when a line does not start with a known verb.
var ErrUnknownVerb = errors.New("unknown verb")

// Known returns true if v is part of the command vocabulary.
func (v Verb) Known() bool {
	switch v {
	case VerbHome, VerbMove, VerbToolPosition, VerbToolRange, VerbToolDelay,
		VerbToolPower, VerbApplyConfig, VerbReadConfig, VerbReadEndstops:
		return true
	}
	return false
}

// Gating returns true if the command occupies the device's single
// command slot until it is acknowledged.
func (v Verb) Gating() bool {
	switch v {
	case VerbMove, VerbToolPosition, VerbToolRange, VerbToolDelay, VerbToolPower, VerbApplyConfig:
		return true
	}
	return false
}

// Direction is the rotation sense of a motor.
type Direction int

const (
	Clockwise Direction = iota
	CounterClockwise
)

func (d Direction) Valid() bool { return d == Clockwise || d == CounterClockwise }

func (d Direction) String() string {
	if d == CounterClockwise {
		return "CCW"
	}
	return "CW"
}

// A Command is a single outgoing line.
type Command struct {
	Verb  Verb
	Words []Word
}

// Arg returns the value of the first word with the key w.
func (c Command) Arg(w byte) (bool, float64) {
	for _, word := range c.Words {
		if word.W == w {
			return true, word.Arg
		}
	}
	return false, 0
}

func (c Command) String() string {
	var sb strings.Builder
	sb.WriteString(string(c.Verb))
	for _, w := range c.Words {
		sb.WriteByte(' ')
		sb.WriteString(w.String())
	}
	return sb.String()
}

// Line returns the newline-terminated wire form of c.
func (c Command) Line() string { return c.String() + "\n" }

func Home() Command { return Command{Verb: VerbHome} }

// Move is a linear move to x,y.
func Move(x, y float64) Command {
	return Command{Verb: VerbMove, Words: []Word{mmWord('X', x), mmWord('Y', y)}}
}

// MoveDelay is a linear move with an auxiliary dwell in milliseconds
// applied by the firmware at each step (laser burn time).
func MoveDelay(x, y float64, delayMs int) Command {
	c := Move(x, y)
	c.Words = append(c.Words, intWord('A', delayMs))
	return c
}

// ToolPosition sets the pen servo position.
func ToolPosition(pos int) Command {
	return Command{Verb: VerbToolPosition, Words: []Word{bareWord(pos)}}
}

// ToolRange configures the pen up and down servo positions.
func ToolRange(up, down int) Command {
	return Command{Verb: VerbToolRange, Words: []Word{intWord('U', up), intWord('D', down)}}
}

func ToolDelay(delayMs int) Command {
	return Command{Verb: VerbToolDelay, Words: []Word{bareWord(delayMs)}}
}

// ToolPower sets the laser power, clamped to 0-255.
func ToolPower(power int) Command {
	if power < 0 {
		power = 0
	}
	if power > MaxToolPower {
		power = MaxToolPower
	}
	return Command{Verb: VerbToolPower, Words: []Word{bareWord(power)}}
}

// ApplyConfig writes the full machine configuration.
func ApplyConfig(a, b Direction, height, width float64, speed int) Command {
	return Command{Verb: VerbApplyConfig, Words: []Word{
		intWord('A', int(a)),
		intWord('B', int(b)),
		truncWord('H', height),
		truncWord('W', width),
		intWord('S', speed),
	}}
}

func ReadConfig() Command   { return Command{Verb: VerbReadConfig} }
func ReadEndstops() Command { return Command{Verb: VerbReadEndstops} }
