package drops

import (
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/droplog/droplog/internal/errors"
)

// CSVTimeLayout is the time format used in history exports.
const CSVTimeLayout = "2006-01-02 15:04:05"

// WriteCSV writes records in mode's layout:
// history is "Item,Time" in append order, total is "Qty,Item" sorted by name.
func WriteCSV(w io.Writer, mode Mode, records []Record) (rows int, err error) {
	cw := csv.NewWriter(w)

	switch mode {
	case ModeTotal:
		if err := cw.Write([]string{"Qty", "Item"}); err != nil {
			return 0, err
		}
		for _, t := range SortTotals(Totals(records)) {
			if err := cw.Write([]string{strconv.Itoa(t.Quantity), t.Item}); err != nil {
				return rows, err
			}
			rows++
		}
	default:
		if err := cw.Write([]string{"Item", "Time"}); err != nil {
			return 0, err
		}
		for _, r := range records {
			if err := cw.Write([]string{r.Item, FormatTime(r.Time)}); err != nil {
				return rows, err
			}
			rows++
		}
	}

	cw.Flush()
	return rows, cw.Error()
}

// ExportOutput describes a finished export.
type ExportOutput struct {
	Path       string `json:"path"`
	Mode       Mode   `json:"mode"`
	Rows       int    `json:"rows"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes the log as CSV to path. An empty path writes to
// <exportsDir>/<mode>-<timestamp>.csv. An empty mode uses the stored mode.
func (s *Store) Export(ctx context.Context, exportsDir, path string, mode Mode) (*ExportOutput, error) {
	b, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = b.Mode
	}
	now := s.now()

	if path == "" {
		path = filepath.Join(exportsDir, fmt.Sprintf("%s-%s.csv", mode, now.Format("2006-01-02T150405")))
	}
	if err := ValidateExportPath(path); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	// Write to a temp file first, then rename, so a failed export never clobbers an older one.
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.NewCancelled("export")
	default:
	}

	rows, err := WriteCSV(file, mode, b.Data)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path must not be a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{Path: path, Mode: mode, Rows: rows, ExportedAt: now.Unix()}, nil
}

// ValidateExportPath rejects traversal, non-.csv targets and symlinks.
func ValidateExportPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewInvalidRequest("path is required")
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return errors.NewInvalidRequest("path must not contain directory traversal (..)")
		}
	}
	if filepath.Ext(filepath.Clean(path)) != ".csv" {
		return errors.NewInvalidRequest("path must have .csv extension")
	}
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

// FormatTime renders t the way exports and listings show it.
func FormatTime(t time.Time) string {
	return t.Local().Format(CSVTimeLayout)
}
