package chat

import "strings"

// DefaultHistorySize is how many recent lines are remembered for dedup.
const DefaultHistorySize = 100

// History is a bounded FIFO of recently seen chat lines.
//
// Two distinct messages with identical text inside the window are treated as
// one; the second is skipped.
type History struct {
	capacity int
	lines    []string
}

// NewHistory returns an empty window holding at most capacity lines.
// A non-positive capacity falls back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{capacity: capacity, lines: make([]string, 0, capacity+1)}
}

// Seen reports whether line (trimmed) is in the window.
func (h *History) Seen(line string) bool {
	line = strings.TrimSpace(line)
	for _, l := range h.lines {
		if l == line {
			return true
		}
	}
	return false
}

// Record appends line (trimmed), evicting the oldest entry once over capacity.
func (h *History) Record(line string) {
	h.lines = append(h.lines, strings.TrimSpace(line))
	if len(h.lines) > h.capacity {
		copy(h.lines, h.lines[1:])
		h.lines = h.lines[:len(h.lines)-1]
	}
}

// Len returns the number of retained lines.
func (h *History) Len() int {
	return len(h.lines)
}

// Capacity returns the window size.
func (h *History) Capacity() int {
	return h.capacity
}
