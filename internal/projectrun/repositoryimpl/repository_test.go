package repositoryimpl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/sqlitedb"
	"github.com/kazz187/agentdash/pkg/storage"
)

func repositories(t *testing.T) map[string]projectrun.Repository {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	db, err := sqlitedb.Open(context.Background(), filepath.Join(t.TempDir(), "agentdash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]projectrun.Repository{
		"yaml":   NewYAMLRepository(st),
		"sqlite": NewSQLiteRepository(db),
	}
}

func newRun(id, projectID string, active bool) *projectrun.ProjectRun {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &projectrun.ProjectRun{
		ID:              id,
		OwnerID:         "alice",
		ProjectID:       projectID,
		RemoteProjectID: "remote-" + id,
		Subtasks:        projectrun.SeedSubtasks([]string{"s1", "s2"}),
		Active:          active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestRepositoryUpdate(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := newRun("R1", "P1", true)
			require.NoError(t, repo.Create(ctx, run))

			got, err := repo.Get(ctx, "R1")
			require.NoError(t, err)
			assert.Equal(t, run.Subtasks, got.Subtasks)
			assert.Nil(t, got.FinishedAt)

			finished := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)
			got.Subtasks = []projectrun.Subtask{
				{RemoteID: "s1", Status: projectrun.SubtaskStatusCompleted, Description: "done", BranchName: "b1"},
				{RemoteID: "s2", Status: projectrun.SubtaskStatusFailed, Description: "failed"},
			}
			got.Active = false
			got.RemoteUpdatedAt = "2026-01-02T04:00:00Z"
			got.FinishedAt = &finished
			require.NoError(t, repo.Update(ctx, got))

			stored, err := repo.Get(ctx, "R1")
			require.NoError(t, err)
			assert.False(t, stored.Active)
			assert.Equal(t, got.Subtasks, stored.Subtasks)
			assert.Equal(t, "2026-01-02T04:00:00Z", stored.RemoteUpdatedAt)
			require.NotNil(t, stored.FinishedAt)
			assert.True(t, finished.Equal(*stored.FinishedAt))

			err = repo.Update(ctx, newRun("missing", "P1", true))
			assert.True(t, cerr.IsCode(err, cerr.NotFound))
			_, err = repo.Get(ctx, "missing")
			assert.True(t, cerr.IsCode(err, cerr.NotFound))
		})
	}
}

func TestRepositoryList(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, run := range []*projectrun.ProjectRun{
				newRun("R1", "P1", false),
				newRun("R2", "P1", true),
				newRun("R3", "P2", true),
			} {
				require.NoError(t, repo.Create(ctx, run))
			}

			runs, total, err := repo.List(ctx, projectrun.Filter{ProjectID: "P1"})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			require.Len(t, runs, 2)
			assert.Equal(t, "R2", runs[0].ID, "newest first")
			assert.Equal(t, "R1", runs[1].ID)

			active, total, err := repo.List(ctx, projectrun.Filter{ActiveOnly: true})
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			require.Len(t, active, 2)
			assert.Equal(t, "R3", active[0].ID)
			assert.Equal(t, "R2", active[1].ID)

			none, total, err := repo.List(ctx, projectrun.Filter{OwnerID: "bob"})
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.Empty(t, none)
		})
	}
}
