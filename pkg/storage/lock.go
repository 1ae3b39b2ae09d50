package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	locksDir       = ".locks"
	lockRetryDelay = 5 * time.Millisecond
)

// Locker is implemented by storages that several processes may share.
// Lock blocks until the named lock is held or ctx ends.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func() error, err error)
}

// Lock takes an exclusive advisory lock on <base>/.locks/<name>.lock. Every
// call opens its own lock file handle, so the lock also excludes other
// LocalStorage values in the same process that share the base directory.
func (s *LocalStorage) Lock(ctx context.Context, name string) (func() error, error) {
	rel, err := clean(path.Join(locksDir, name+".lock"))
	if err != nil {
		return nil, err
	}
	if err := s.root.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(filepath.Join(s.basePath, rel))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: %w", name, context.Cause(ctx))
	}
	return fl.Unlock, nil
}
