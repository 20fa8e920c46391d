package link

import (
	"errors"
	"strconv"
	"strings"
)

// ParseCommand parses an outgoing command line back into a Command.
func ParseCommand(line string) (c Command, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return c, errors.New("empty line")
	}
	c.Verb = Verb(strings.ToUpper(fields[0]))
	if !c.Verb.Known() {
		return c, ErrUnknownVerb
	}

	c.Words = make([]Word, 0, len(fields)-1)
	for _, f := range fields[1:] {
		var w Word
		if f[0] >= 'A' && f[0] <= 'Z' {
			w.W = f[0]
			f = f[1:]
		}
		w.Arg, err = strconv.ParseFloat(f, 64)
		if err != nil {
			return c, err
		}
		if i := strings.IndexByte(f, '.'); i >= 0 {
			w.Prec = len(f) - i - 1
		}
		c.Words = append(c.Words, w)
	}

	return c, nil
}
