package link

import (
	"math"
	"strconv"
)

// A Word is a single argument of a command line.
//
// A zero W denotes a bare value with no key letter (e.g. `M1 90`).
type Word struct {
	W   byte
	Arg float64

	// Prec is the number of decimal places written. Zero means the
	// value is truncated to a plain integer.
	Prec int
}

func (w Word) IsValid() bool {
	return w.W == 0 || (w.W >= 'A' && w.W <= 'Z')
}

func formatArg(f float64, prec int) string {
	if prec <= 0 {
		return strconv.FormatInt(int64(math.Trunc(f)), 10)
	}
	return strconv.FormatFloat(f, 'f', prec, 64)
}

func (w Word) String() string {
	if w.W == 0 {
		return formatArg(w.Arg, w.Prec)
	}
	return string(w.W) + formatArg(w.Arg, w.Prec)
}

func intWord(w byte, val int) Word       { return Word{W: w, Arg: float64(val)} }
func mmWord(w byte, val float64) Word    { return Word{W: w, Arg: val, Prec: 2} }
func bareWord(val int) Word              { return Word{Arg: float64(val)} }
func truncWord(w byte, val float64) Word { return Word{W: w, Arg: val} }
