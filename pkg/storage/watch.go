package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval coalesces the Create/Write/Rename burst produced by one
// atomic Write into a single Change.
const DebounceInterval = 100 * time.Millisecond

// Change describes a record file written or removed under a watched prefix.
type Change struct {
	Path    string // storage-relative, e.g. "tasks/01J....yaml"
	Removed bool
}

// Watch calls fn for every record file changed directly under prefix until
// ctx is cancelled. It lets a server notice records written by another
// process sharing the same base directory.
func (s *LocalStorage) Watch(ctx context.Context, prefix string, fn func(Change)) error {
	rel, err := clean(prefix)
	if err != nil {
		return err
	}
	if err := s.root.MkdirAll(rel, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", prefix, err)
	}
	dir := filepath.Join(s.basePath, rel)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	emit := func(name string) {
		key := path.Join(filepath.ToSlash(rel), filepath.Base(name))
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[key]; ok {
			t.Stop()
		}
		pending[key] = time.AfterFunc(DebounceInterval, func() {
			mu.Lock()
			delete(pending, key)
			mu.Unlock()
			_, statErr := os.Stat(name)
			fn(Change{Path: key, Removed: os.IsNotExist(statErr)})
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasSuffix(ev.Name, tmpSuffix) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			emit(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "storage watcher error", "prefix", prefix, "error", err)
		}
	}
}
