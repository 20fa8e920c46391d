package link

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Decode classifies a single line received from the device.
//
// A malformed report returns an error and no event; lines that match
// nothing are returned as EventUnknown.
func Decode(line string) (Event, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return EventUnknown{Data: line}, nil
	}

	head := strings.ToUpper(fields[0])
	switch {
	case head == "OK":
		return EventAck{}, nil
	case Verb(head) == VerbReadConfig:
		r, err := parseSetupReport(fields)
		if err != nil {
			return nil, fmt.Errorf("decode setup report: %w", err)
		}
		return r, nil
	case Verb(head) == VerbReadEndstops:
		r, err := parseEndstopReport(fields)
		if err != nil {
			return nil, fmt.Errorf("decode endstop report: %w", err)
		}
		return r, nil
	case Verb(head).Gating():
		return EventAck{Verb: Verb(head)}, nil
	}

	return EventUnknown{Data: strings.TrimSpace(line)}, nil
}

func parseDirection(field string, key byte) (Direction, error) {
	if len(field) < 2 || field[0] != key {
		return 0, fmt.Errorf("expected %c<dir> but got '%s'", key, field)
	}
	n, err := strconv.Atoi(field[1:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return Clockwise, nil
	}
	return CounterClockwise, nil
}

// parseSetupReport handles `M10 XY <w> <h> <x> <y> A<a> B<b> ... [S<s>] [U<u>] [D<d>]`.
func parseSetupReport(fields []string) (r EventSetupReport, err error) {
	if len(fields) < 2 || fields[1] != "XY" {
		return r, errors.New("not an XY report")
	}
	if len(fields) < 8 {
		return r, errors.New("invalid number of elements")
	}
	r.Width, err = strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return r, err
	}
	r.Height, err = strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return r, err
	}
	r.X, err = strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return r, err
	}
	r.Y, err = strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return r, err
	}
	r.MotorA, err = parseDirection(fields[6], 'A')
	if err != nil {
		return r, err
	}
	r.MotorB, err = parseDirection(fields[7], 'B')
	if err != nil {
		return r, err
	}

	for _, f := range fields[8:] {
		if len(f) < 2 {
			continue
		}
		var dst *int
		switch f[0] {
		case 'S':
			r.HasSpeed, dst = true, &r.Speed
		case 'U':
			r.HasPenUp, dst = true, &r.PenUp
		case 'D':
			r.HasPenDown, dst = true, &r.PenDown
		default:
			continue
		}
		*dst, err = strconv.Atoi(f[1:])
		if err != nil {
			return r, err
		}
	}

	return r, nil
}

// parseEndstopReport handles `M11 <X-> <X+> <Y-> <Y+>`.
func parseEndstopReport(fields []string) (r EventEndstopReport, err error) {
	if len(fields) < 5 {
		return r, errors.New("invalid number of elements")
	}
	vals := []*int{&r.XMin, &r.XMax, &r.YMin, &r.YMax}
	for i, v := range vals {
		*v, err = strconv.Atoi(fields[i+1])
		if err != nil {
			return r, err
		}
	}
	return r, nil
}
