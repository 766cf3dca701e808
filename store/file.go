package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// FileStore implements KV with one file per key under a directory.
// Writes are atomic: temp file, fsync, rename.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFile creates a file store rooted at dir, creating it if needed.
func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: failed to create directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file that holds key.
func (s *FileStore) Path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("file: invalid key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// Get returns the value stored under key.
func (s *FileStore) Get(key string) (string, error) {
	path, err := s.Path(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("file: read %s: %w", key, err)
	}
	return string(data), nil
}

// Set atomically replaces the file for key.
func (s *FileStore) Set(key, value string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+key+"-*")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(value); err != nil {
		return fmt.Errorf("file: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("file: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("file: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes the file for key.
func (s *FileStore) Delete(key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file: delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// Watch calls fn whenever the file for key changes on disk, including
// changes made by another process. Bursts of events are debounced.
// It blocks until ctx is cancelled.
func (s *FileStore) Watch(ctx context.Context, key string, logger *slog.Logger, fn func()) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: atomic renames replace the file inode.
	if err := w.Add(s.dir); err != nil {
		return err
	}
	logger.Info("file store: watching", slog.String("path", path))

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case <-debounceCh:
			debounceCh = nil
			fn()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			debounceCh = debounce.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("file store: watch error", slog.String("error", watchErr.Error()))
		}
	}
}
