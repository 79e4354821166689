package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesFileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "droplog.log")
	var console bytes.Buffer

	l := New(Options{FilePath: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1, Console: &console})
	l.Info("tracker", "poll started", map[string]any{"source": "stdin"})
	l.Warn("notify", "webhook failed", map[string]any{"error": errors.New("timeout")})
	if err := l.Sync(); err != nil {
		t.Logf("Sync() error = %v (ignored)", err)
	}

	entries, err := l.Recent("", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(entries))
	}
	// newest first
	if entries[0].Message != "webhook failed" {
		t.Errorf("entries[0].Message = %q, want %q", entries[0].Message, "webhook failed")
	}
	if entries[0].Module != "notify" {
		t.Errorf("entries[0].Module = %q, want notify", entries[0].Module)
	}
	if entries[0].Details["error"] != "timeout" {
		t.Errorf("entries[0].Details[error] = %v, want timeout", entries[0].Details["error"])
	}

	// console is warn+ unless Debug is set
	if strings.Contains(console.String(), "poll started") {
		t.Errorf("console should not contain info lines: %q", console.String())
	}
	if !strings.Contains(console.String(), "webhook failed") {
		t.Errorf("console missing warn line: %q", console.String())
	}
}

func TestRecent_LevelFilterAndLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "droplog.log")
	l := New(Options{FilePath: path, MaxSizeMB: 1})
	for i := 0; i < 3; i++ {
		l.Info("tracker", "tick", nil)
	}
	l.Error("tracker", "boom", nil)
	_ = l.Sync()

	errs, err := l.Recent("ERROR", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(errs) != 1 || errs[0].Message != "boom" {
		t.Errorf("Recent(ERROR) = %+v, want one boom entry", errs)
	}

	limited, err := l.Recent("", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Recent(limit=2) returned %d entries", len(limited))
	}
}

func TestReadFile_Missing(t *testing.T) {
	entries, err := ReadFile(filepath.Join(t.TempDir(), "nope.log"), "", 10)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ReadFile() = %v, want empty", entries)
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("x", "y", nil)
	entries, err := l.Recent("", 10)
	if err != nil || len(entries) != 0 {
		t.Errorf("Recent() on nop = %v, %v", entries, err)
	}
}
