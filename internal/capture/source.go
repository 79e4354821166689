// Package capture provides the chat-box readers the tracker polls.
package capture

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/droplog/droplog/internal/errors"
)

// Default virtual screen size for terminal-backed sources.
const (
	DefaultCols = 120
	DefaultRows = 50
)

// RawLine is one visible chat row, in top-to-bottom order.
type RawLine struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// Source is a chat box that can be located and read.
type Source interface {
	// Find reports whether the chat box is available yet.
	Find(ctx context.Context) (bool, error)
	// Read returns the visible rows when they changed since the last Read,
	// or nil when there is nothing new.
	Read(ctx context.Context) ([]RawLine, error)
}

// Kinds of source selection strings accepted by Parse.
const (
	KindFile  = "file"
	KindExec  = "exec"
	KindStdin = "stdin"
)

// Spec is a parsed source selection such as "file:/tmp/chat.txt".
type Spec struct {
	Kind string
	Arg  string
}

func (s Spec) String() string {
	if s.Kind == KindStdin {
		return KindStdin
	}
	return s.Kind + ":" + s.Arg
}

// ParseSpec parses "file:<path>", "exec:<command>" or "stdin".
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == KindStdin || raw == "-" {
		return Spec{Kind: KindStdin}, nil
	}
	kind, arg, ok := strings.Cut(raw, ":")
	if !ok || strings.TrimSpace(arg) == "" {
		return Spec{}, errors.NewInvalidRequest(fmt.Sprintf("invalid source %q: want file:<path>, exec:<command> or stdin", raw))
	}
	switch kind {
	case KindFile, KindExec:
		return Spec{Kind: kind, Arg: strings.TrimSpace(arg)}, nil
	default:
		return Spec{}, errors.NewInvalidRequest(fmt.Sprintf("unknown source kind %q", kind))
	}
}

// Open builds the Source described by spec. stdin backs the "stdin" kind.
// The returned source may hold resources; close it with Close.
func Open(spec Spec, stdin io.Reader) (Source, error) {
	switch spec.Kind {
	case KindFile:
		return NewFileSource(spec.Arg), nil
	case KindExec:
		return NewCommandSource(spec.Arg, DefaultCols, DefaultRows), nil
	case KindStdin:
		return NewScreenSource(stdin, DefaultCols, DefaultRows), nil
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown source kind %q", spec.Kind))
	}
}

// Close releases src if it holds resources.
func Close(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// splitRows turns a block of text into non-empty rows, keeping each row's
// position on screen as its Index.
func splitRows(text string) []RawLine {
	var out []RawLine
	for i, row := range strings.Split(text, "\n") {
		row = strings.TrimRight(row, " \t\r")
		if strings.TrimSpace(row) == "" {
			continue
		}
		out = append(out, RawLine{Text: row, Index: i})
	}
	return out
}
