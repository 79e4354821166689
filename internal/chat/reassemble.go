// Package chat turns captured chat rows into classified drop and boss events.
package chat

import (
	"regexp"
	"strings"

	"github.com/droplog/droplog/internal/capture"
)

// markerPattern matches the [HH:MM:SS] prefix that starts every chat message.
var markerPattern = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\]`)

// Line is one reassembled chat message.
type Line struct {
	Text string
}

// HasMarker reports whether s starts with a [HH:MM:SS] timestamp marker.
func HasMarker(s string) bool {
	return markerPattern.MatchString(s)
}

// StripMarker removes a leading [HH:MM:SS] marker and the whitespace after it.
func StripMarker(s string) string {
	return strings.TrimSpace(markerPattern.ReplaceAllString(s, ""))
}

// Reassemble joins wrapped chat rows into logical lines.
//
// A row starting with a timestamp marker begins a new line; any other row
// continues the previous one. The first row of a batch is dropped when it
// has no marker, since its start scrolled off screen. Only that row is
// dropped: further unmarked rows before the first marker form a line of
// their own.
func Reassemble(fragments []capture.RawLine) []Line {
	var (
		lines []Line
		acc   strings.Builder
	)

	flush := func() {
		if text := strings.TrimSpace(acc.String()); text != "" {
			lines = append(lines, Line{Text: text})
		}
		acc.Reset()
	}

	for i, frag := range fragments {
		text := strings.TrimSpace(frag.Text)
		if HasMarker(text) {
			flush()
			acc.WriteString(text)
			acc.WriteByte(' ')
			continue
		}
		if i == 0 {
			continue
		}
		acc.WriteString(text)
	}
	flush()

	return lines
}
