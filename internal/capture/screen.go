package capture

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/x/vt"
)

// ScreenSource renders a byte stream through a virtual terminal and reads the
// composed screen, so cursor movement and redraws land where a player would
// see them.
type ScreenSource struct {
	emu *vt.SafeEmulator
	r   io.Reader

	startOnce sync.Once
	done      chan struct{}

	mu         sync.Mutex
	lastScreen string
	err        error
}

// NewScreenSource creates a cols x rows screen fed from r once Find is called.
func NewScreenSource(r io.Reader, cols, rows int) *ScreenSource {
	return &ScreenSource{
		emu:  vt.NewSafeEmulator(cols, rows),
		r:    r,
		done: make(chan struct{}),
	}
}

// Write feeds raw output into the virtual terminal. Bare "\n" is treated as
// a new line so plain text streams render one row per line.
func (s *ScreenSource) Write(data []byte) (int, error) {
	if _, err := s.emu.Write(bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (s *ScreenSource) start() {
	s.startOnce.Do(func() {
		if s.r == nil {
			close(s.done)
			return
		}
		go s.pump()
	})
}

func (s *ScreenSource) pump() {
	defer close(s.done)
	buf := make([]byte, 8192)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			_, _ = s.Write(buf[:n])
		}
		if err != nil {
			// EIO is how a PTY reports that the child exited.
			if err != io.EOF && !stderrors.Is(err, syscall.EIO) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
	}
}

// Screen returns the visible text with trailing blank space removed.
func (s *ScreenSource) Screen() string {
	lines := strings.Split(s.emu.String(), "\n")
	last := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimRight(lines[i], " \t\r") != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return ""
	}
	trimmed := make([]string, last+1)
	for i := 0; i <= last; i++ {
		trimmed[i] = strings.TrimRight(lines[i], " \t\r")
	}
	return strings.Join(trimmed, "\n")
}

// Find starts consuming the stream and reports whether anything is on screen.
func (s *ScreenSource) Find(ctx context.Context) (bool, error) {
	s.start()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Screen() != "", nil
}

// Read returns the visible rows if the screen changed since the last Read.
func (s *ScreenSource) Read(ctx context.Context) ([]RawLine, error) {
	s.start()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	screen := s.Screen()

	s.mu.Lock()
	defer s.mu.Unlock()
	if screen == s.lastScreen {
		return nil, nil
	}
	s.lastScreen = screen
	return splitRows(screen), nil
}

// Err returns the stream error that stopped the reader, if any.
func (s *ScreenSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the input stream is exhausted.
func (s *ScreenSource) Done() <-chan struct{} {
	return s.done
}

// Resize changes the virtual screen dimensions.
func (s *ScreenSource) Resize(cols, rows int) {
	s.emu.Resize(cols, rows)
}
