package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

const tmpSuffix = ".tmp"

// LocalStorage implements Storage on a directory. All access goes through an
// os.Root, so record paths cannot reach outside the base directory. Several
// processes may share one base directory; see Watch.
type LocalStorage struct {
	basePath string
	root     *os.Root
	mu       sync.RWMutex
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("open base directory: %w", err)
	}
	return &LocalStorage{basePath: abs, root: root}, nil
}

// BasePath is the absolute directory records are stored under.
func (s *LocalStorage) BasePath() string {
	return s.basePath
}

func (s *LocalStorage) Close() error {
	return s.root.Close()
}

// clean turns a storage path into a root-relative one. Paths that would
// leave the root are reported as missing.
func clean(p string) (string, error) {
	c := path.Clean(strings.TrimPrefix(p, "/"))
	if !filepath.IsLocal(c) {
		return "", fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return filepath.FromSlash(c), nil
}

func notFound(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return err
}

func (s *LocalStorage) Read(_ context.Context, p string) ([]byte, error) {
	rel, err := clean(p)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.root.ReadFile(rel)
	if err != nil {
		return nil, notFound(p, err)
	}
	return data, nil
}

// Write replaces the file atomically via a temp file and rename, so readers
// in other processes never see a partial record.
func (s *LocalStorage) Write(_ context.Context, p string, data []byte) error {
	rel, err := clean(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(rel); dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", p, err)
		}
	}
	tmp := rel + tmpSuffix
	if err := s.root.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := s.root.Rename(tmp, rel); err != nil {
		_ = s.root.Remove(tmp)
		return fmt.Errorf("rename %s: %w", p, err)
	}
	return nil
}

func (s *LocalStorage) Delete(_ context.Context, p string) error {
	rel, err := clean(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.root.Remove(rel); err != nil {
		return notFound(p, err)
	}
	return nil
}

// List returns the files directly under prefix. A missing prefix is empty.
func (s *LocalStorage) List(_ context.Context, prefix string) ([]string, error) {
	rel, err := clean(prefix)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir, err := s.root.Open(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer dir.Close()
	entries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	var paths []string
	for _, e := range entries {
		// Leftover temp files come from a write interrupted by a crash.
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		paths = append(paths, path.Join(filepath.ToSlash(rel), e.Name()))
	}
	return paths, nil
}

func (s *LocalStorage) Exists(_ context.Context, p string) (bool, error) {
	rel, err := clean(p)
	if err != nil {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = s.root.Stat(rel)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
}
