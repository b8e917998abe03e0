package validator

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDateFormat is used when a date rule names no format.
const DefaultDateFormat = "%Y-%m-%d"

// Numeric fields map to Go's unpadded layout elements so that both "01" and
// "1" parse, as strptime accepts.
var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'H': "15",
	'I': "3",
	'M': "4",
	'S': "5",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'j': "002",
	'p': "PM",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// layoutFromStrftime converts a strftime-style format into a Go time layout.
func layoutFromStrftime(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(format) {
			return "", fmt.Errorf("date format %q ends with a bare %%", format)
		}
		i++
		layout, ok := strftimeDirectives[format[i]]
		if !ok {
			return "", fmt.Errorf("date format %q uses unsupported directive %%%c", format, format[i])
		}
		b.WriteString(layout)
	}
	return b.String(), nil
}

// ParseDate parses value with a strftime-style format.
func ParseDate(value, format string) (time.Time, error) {
	if format == "" {
		format = DefaultDateFormat
	}
	layout, err := layoutFromStrftime(format)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(layout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q with format %q: %w", value, format, err)
	}
	return t, nil
}
