package repositoryimpl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/agentdash/internal/agent"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/sqlitedb"
	"github.com/kazz187/agentdash/pkg/storage"
)

func repositories(t *testing.T) map[string]agent.Repository {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	db, err := sqlitedb.Open(context.Background(), filepath.Join(t.TempDir(), "agentdash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]agent.Repository{
		"yaml":   NewYAMLRepository(st),
		"sqlite": NewSQLiteRepository(db),
	}
}

func TestRepository(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			for _, a := range []*agent.Agent{
				{ID: "A1", OwnerID: "alice", Name: "coder", URL: "https://agents.example/coder", CreatedAt: now, UpdatedAt: now},
				{ID: "A2", OwnerID: "alice", Name: "reviewer", URL: "https://agents.example/reviewer", CreatedAt: now, UpdatedAt: now},
				{ID: "A3", OwnerID: "bob", Name: "other", URL: "https://agents.example/other", CreatedAt: now, UpdatedAt: now},
			} {
				require.NoError(t, repo.Create(ctx, a))
			}

			_, err := repo.Mutate(ctx, "A2", "alice", func(a *agent.Agent) error {
				a.Archived = true
				return nil
			})
			require.NoError(t, err)

			_, err = repo.Mutate(ctx, "A1", "bob", func(a *agent.Agent) error { return nil })
			assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

			active, total, err := repo.List(ctx, agent.Filter{OwnerID: "alice"})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			require.Len(t, active, 1)
			assert.Equal(t, "A1", active[0].ID)

			archived, _, err := repo.List(ctx, agent.Filter{OwnerID: "alice", Archived: true})
			require.NoError(t, err)
			require.Len(t, archived, 1)
			assert.Equal(t, "A2", archived[0].ID)

			got, err := repo.Get(ctx, "A3")
			require.NoError(t, err)
			assert.Equal(t, "other", got.Name)

			_, err = repo.Get(ctx, "missing")
			assert.True(t, cerr.IsCode(err, cerr.NotFound))
		})
	}
}
