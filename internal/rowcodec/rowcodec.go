// Package rowcodec renders database rows as single delimited lines.
//
// A row is a sequence of text fields joined by '|'. A backslash escapes the
// delimiter and itself inside a field, so free text containing '|' survives
// a round trip. Split rejects dangling escapes instead of guessing.
package rowcodec

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Separator joins fields of an encoded row.
	Separator = '|'
	escape    = '\\'
)

// ErrDanglingEscape is returned when a line ends in an unpaired backslash.
var ErrDanglingEscape = errors.New("rowcodec: dangling escape at end of row")

// Join encodes fields into one line.
func Join(fields []string) string {
	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(Separator)
		}
		for j := 0; j < len(field); j++ {
			c := field[j]
			if c == Separator || c == escape {
				b.WriteByte(escape)
			}
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Split decodes a line produced by Join. An empty line decodes to a single
// empty field, matching Join([]string{""}).
func Split(line string) ([]string, error) {
	fields := make([]string, 0, strings.Count(line, string(Separator))+1)
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch c {
		case escape:
			if i+1 >= len(line) {
				return nil, ErrDanglingEscape
			}
			i++
			cur.WriteByte(line[i])
		case Separator:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields, nil
}

// SplitN decodes line and requires exactly n fields.
func SplitN(line string, n int) ([]string, error) {
	fields, err := Split(line)
	if err != nil {
		return nil, err
	}
	if len(fields) != n {
		return nil, &FieldCountError{Want: n, Got: len(fields)}
	}
	return fields, nil
}

// FieldCountError reports a row with the wrong number of fields.
type FieldCountError struct {
	Want int
	Got  int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("rowcodec: expected %d fields, got %d", e.Want, e.Got)
}
