// Package store persists model metadata and model files outside the process:
// JSON files on disk, a Postgres table, or an S3-compatible bucket.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileStore keeps raw version payloads as <dir>/<id>.json.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the payloads.
func (s *FileStore) Dir() string { return s.dir }

// Get reads <id>.json. A missing file is reported as found=false.
func (s *FileStore) Get(_ context.Context, id string) ([]byte, bool, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("file store: read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// Put writes <id>.json through a temp file so readers never see a partial payload.
func (s *FileStore) Put(_ context.Context, id string, raw []byte) error {
	path, err := s.pathFor(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("file store: write %s: %w", filepath.Base(tmp), err)
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("file store: finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStore) pathFor(id string) (string, error) {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", fmt.Errorf("file store: invalid version id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}
