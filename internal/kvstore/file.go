// File: internal/kvstore/file.go
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const fileExt = ".json"

// FileStore keeps one JSON document per key inside a directory. Writes go
// through a temp file and a rename so readers never see a partial value.
type FileStore struct {
	dir string
	mu  sync.RWMutex
	log *zap.Logger
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir, log: logger.Named("kvstore.file")}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(s.path(key))
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kvstore: failed to read %q: %w", key, err)
	}
	if err := decode(key, data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Store.
func (s *FileStore) Set(ctx context.Context, key string, value interface{}) error {
	data, err := encode(key, value)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("kvstore: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("kvstore: failed to write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kvstore: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		return fmt.Errorf("kvstore: failed to commit %q: %w", key, err)
	}
	return nil
}

// Watch calls onChange with the key of every value edited on disk, by this
// process or another one, until ctx is done.
func (s *FileStore) Watch(ctx context.Context, onChange func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				base := filepath.Base(event.Name)
				if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileExt) {
					continue
				}
				key := strings.TrimSuffix(base, fileExt)
				if ValidateKey(key) == nil {
					onChange(key)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("Store watcher error.", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
