package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(ctx, "tasks/T1.yaml")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "tasks/T1.yaml", []byte("id: T1\n")))
	require.NoError(t, s.Write(ctx, "tasks/T2.yaml", []byte("id: T2\n")))

	data, err := s.Read(ctx, "tasks/T1.yaml")
	require.NoError(t, err)
	assert.Equal(t, "id: T1\n", string(data))

	exists, err := s.Exists(ctx, "tasks/T2.yaml")
	require.NoError(t, err)
	assert.True(t, exists)

	// A temp file left behind by an interrupted write is not a record.
	require.NoError(t, os.WriteFile(filepath.Join(s.BasePath(), "tasks", "T3.yaml"+tmpSuffix), []byte("partial"), 0o644))

	paths, err := s.List(ctx, "tasks")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tasks/T1.yaml", "tasks/T2.yaml"}, paths)

	require.NoError(t, s.Delete(ctx, "tasks/T1.yaml"))
	assert.ErrorIs(t, s.Delete(ctx, "tasks/T1.yaml"), ErrNotFound)

	paths, err = s.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStorageStaysInBase(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.yaml"), []byte("x"), 0o644))
	s, err := NewLocalStorage(filepath.Join(parent, "data"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Read(ctx, "tasks/../../secret.yaml")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Write(ctx, "../secret.yaml", []byte("y")), ErrNotFound)
	exists, err := s.Exists(ctx, "../secret.yaml")
	require.NoError(t, err)
	assert.False(t, exists)

	data, err := os.ReadFile(filepath.Join(parent, "secret.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestLocalStorageWatch(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		changes []Change
	)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, "tasks", func(c Change) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})
	}()

	snapshot := func() []Change {
		mu.Lock()
		defer mu.Unlock()
		return append([]Change(nil), changes...)
	}

	// The watcher registers asynchronously; keep writing until it reports.
	require.Eventually(t, func() bool {
		if err := s.Write(context.Background(), "tasks/T1.yaml", []byte("id: T1\n")); err != nil {
			return false
		}
		return len(snapshot()) > 0
	}, 5*time.Second, 3*DebounceInterval)
	assert.Equal(t, Change{Path: "tasks/T1.yaml"}, snapshot()[0])

	require.NoError(t, s.Delete(context.Background(), "tasks/T1.yaml"))
	require.Eventually(t, func() bool {
		got := snapshot()
		return got[len(got)-1] == Change{Path: "tasks/T1.yaml", Removed: true}
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}
