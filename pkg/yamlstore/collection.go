// Package yamlstore keeps records as one YAML document per file under a
// storage prefix, e.g. "tasks/<id>.yaml".
package yamlstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/storage"
)

// Collection stores records of type T. Create, Update and Delete run under
// Locked; Locked also runs custom read-modify-write sequences. Get, Put,
// Remove and Scan do not lock.
type Collection[T any] struct {
	storage storage.Storage
	prefix  string
	name    string // singular record name used in error messages
	mu      sync.Mutex
}

func New[T any](s storage.Storage, prefix, name string) *Collection[T] {
	return &Collection[T]{storage: s, prefix: prefix, name: name}
}

func (c *Collection[T]) Prefix() string {
	return c.prefix
}

func (c *Collection[T]) Path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", c.prefix, id)
}

// Locked runs fn while holding the collection mutex. When the storage is a
// storage.Locker, fn also holds the collection's cross-process lock, so
// processes sharing a directory never interleave read-modify-write
// sequences. fn must only use the unlocked methods.
func (c *Collection[T]) Locked(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.storage.(storage.Locker); ok {
		unlock, err := l.Lock(ctx, c.prefix)
		if err != nil {
			return cerr.NewError(cerr.Unavailable, "failed to lock "+c.name+" records", err)
		}
		defer func() { _ = unlock() }()
	}
	return fn()
}

// Create writes v under id, failing with AlreadyExists if a record is there.
func (c *Collection[T]) Create(ctx context.Context, id string, v *T) error {
	return c.Locked(ctx, func() error {
		exists, err := c.storage.Exists(ctx, c.Path(id))
		if err != nil {
			return cerr.WrapStorageWriteError(c.name, err)
		}
		if exists {
			return cerr.NewError(cerr.AlreadyExists, c.name+" already exists", nil)
		}
		return c.Put(ctx, id, v)
	})
}

func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	data, err := c.storage.Read(ctx, c.Path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError(c.name, err)
	}
	v := new(T)
	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("unmarshal %s %s: %w", c.name, id, err))
	}
	return v, nil
}

func (c *Collection[T]) Put(ctx context.Context, id string, v *T) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("marshal %s %s: %w", c.name, id, err))
	}
	if err := c.storage.Write(ctx, c.Path(id), data); err != nil {
		return cerr.WrapStorageWriteError(c.name, err)
	}
	return nil
}

func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	if err := c.storage.Delete(ctx, c.Path(id)); err != nil {
		return cerr.WrapStorageDeleteError(c.name, err)
	}
	return nil
}

// Update reads the record, applies fn and writes it back. An error from fn
// aborts the write and is returned as is.
func (c *Collection[T]) Update(ctx context.Context, id string, fn func(*T) error) (*T, error) {
	var v *T
	err := c.Locked(ctx, func() error {
		var err error
		if v, err = c.Get(ctx, id); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
		return c.Put(ctx, id, v)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Delete removes the record after check accepts it. A nil check skips the
// read.
func (c *Collection[T]) Delete(ctx context.Context, id string, check func(*T) error) error {
	return c.Locked(ctx, func() error {
		if check != nil {
			v, err := c.Get(ctx, id)
			if err != nil {
				return err
			}
			if err := check(v); err != nil {
				return err
			}
		}
		return c.Remove(ctx, id)
	})
}

// Scan returns every readable record accepted by match, ordered by file name
// (ULID ids sort by creation time) or reversed when newestFirst is set.
// Records that fail to read or decode are skipped: another process may be
// replacing them.
func (c *Collection[T]) Scan(ctx context.Context, newestFirst bool, match func(*T) bool) ([]*T, error) {
	paths, err := c.storage.List(ctx, c.prefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError(c.name, err)
	}
	slices.Sort(paths)
	if newestFirst {
		slices.Reverse(paths)
	}

	var out []*T
	for _, p := range paths {
		data, err := c.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		v := new(T)
		if err := yaml.Unmarshal(data, v); err != nil {
			continue
		}
		if match == nil || match(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Page slices items by offset and limit (0 means unlimited) and returns the
// page with the unpaged total.
func Page[T any](items []T, limit, offset int) ([]T, int) {
	total := len(items)
	if offset >= total {
		return nil, total
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, total
}
