package capture

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/droplog/droplog/internal/errors"
)

// FileSource reads a snapshot file holding the visible chat rows, one per line,
// as written by an external screen reader. The file is re-read only after it
// changes on disk.
type FileSource struct {
	path string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	dirty    bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watchErr error
}

// NewFileSource returns a source for path. Watching starts on the first
// successful Find.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, stopCh: make(chan struct{})}
}

// Find reports whether the snapshot file exists, and starts watching it.
func (f *FileSource) Find(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := os.Stat(f.path); err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errors.NewSourceUnavailable("file:"+f.path, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return true, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, errors.NewSourceUnavailable("file:"+f.path, err)
	}
	// Watch the directory: writers commonly replace the file with a rename.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return false, errors.NewSourceUnavailable("file:"+f.path, err)
	}
	f.watcher = watcher
	f.dirty = true

	f.wg.Add(1)
	go f.watchLoop(watcher)
	return true, nil
}

func (f *FileSource) watchLoop(watcher *fsnotify.Watcher) {
	defer f.wg.Done()
	target := filepath.Clean(f.path)

	for {
		select {
		case <-f.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				f.mu.Lock()
				f.dirty = true
				f.mu.Unlock()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.mu.Lock()
			f.watchErr = err
			f.mu.Unlock()
		}
	}
}

// Read returns the file's rows if it changed since the last Read.
func (f *FileSource) Read(ctx context.Context) ([]RawLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	if !f.dirty {
		f.mu.Unlock()
		return nil, nil
	}
	f.dirty = false
	f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			// Mid-replace; the Create event marks it dirty again.
			return nil, nil
		}
		return nil, errors.NewSourceUnavailable("file:"+f.path, err)
	}
	return splitRows(string(data)), nil
}

// WatchErr returns the last error reported by the file watcher.
func (f *FileSource) WatchErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchErr
}

// Close stops watching the file.
func (f *FileSource) Close() error {
	f.mu.Lock()
	watcher := f.watcher
	f.watcher = nil
	f.mu.Unlock()
	if watcher == nil {
		return nil
	}

	close(f.stopCh)
	err := watcher.Close()
	f.wg.Wait()
	return err
}
