package capture

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/droplog/droplog/internal/errors"
)

// CommandSource runs a command under a PTY and reads its screen.
// Typical use is an OCR helper that prints the chat box on every refresh.
type CommandSource struct {
	command    string
	cols, rows int

	mu     sync.Mutex
	cmd    *exec.Cmd
	ptmx   *os.File
	screen *ScreenSource
}

// NewCommandSource returns a source for command; it starts on the first Find.
func NewCommandSource(command string, cols, rows int) *CommandSource {
	return &CommandSource{command: command, cols: cols, rows: rows}
}

func shellCommand(command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.Command("cmd", "/C", command)
	}
	return exec.Command("/bin/sh", "-c", command)
}

func (c *CommandSource) ensureStarted() (*ScreenSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen != nil {
		return c.screen, nil
	}

	cmd := shellCommand(c.command)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(c.rows), Cols: uint16(c.cols)})
	if err != nil {
		return nil, errors.NewSourceUnavailable("exec:"+c.command, err)
	}

	c.cmd = cmd
	c.ptmx = ptmx
	c.screen = NewScreenSource(ptmx, c.cols, c.rows)
	return c.screen, nil
}

// Find starts the command if needed and reports whether it has drawn anything.
func (c *CommandSource) Find(ctx context.Context) (bool, error) {
	screen, err := c.ensureStarted()
	if err != nil {
		return false, err
	}
	return screen.Find(ctx)
}

// Read returns the command's screen rows if they changed since the last Read.
func (c *CommandSource) Read(ctx context.Context) ([]RawLine, error) {
	screen, err := c.ensureStarted()
	if err != nil {
		return nil, err
	}
	return screen.Read(ctx)
}

// Close stops the command and releases the PTY.
func (c *CommandSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil {
		return nil
	}

	if c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(os.Interrupt)
		exited := make(chan struct{})
		go func() {
			_ = c.cmd.Wait()
			close(exited)
		}()
		select {
		case <-exited:
		case <-time.After(500 * time.Millisecond):
			_ = c.cmd.Process.Kill()
			<-exited
		}
	}
	err := c.ptmx.Close()
	c.cmd = nil
	return err
}
