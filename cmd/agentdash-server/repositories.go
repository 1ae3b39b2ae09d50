package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kazz187/agentdash/internal/agent"
	agentrepo "github.com/kazz187/agentdash/internal/agent/repositoryimpl"
	"github.com/kazz187/agentdash/internal/config"
	"github.com/kazz187/agentdash/internal/project"
	projectrepo "github.com/kazz187/agentdash/internal/project/repositoryimpl"
	"github.com/kazz187/agentdash/internal/projectrun"
	runrepo "github.com/kazz187/agentdash/internal/projectrun/repositoryimpl"
	"github.com/kazz187/agentdash/internal/pushsubscription"
	pushsubrepo "github.com/kazz187/agentdash/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/agentdash/internal/task"
	taskrepo "github.com/kazz187/agentdash/internal/task/repositoryimpl"
	"github.com/kazz187/agentdash/pkg/sqlitedb"
	"github.com/kazz187/agentdash/pkg/storage"
)

type repositories struct {
	task     task.Repository
	project  project.Repository
	agent    agent.Repository
	run      projectrun.Repository
	pushSub  pushsubscription.Repository
	local    *storage.LocalStorage // set for local storage only
	ping     func(context.Context) error
	closeFns []func() error
}

func (r *repositories) Close() error {
	var firstErr error
	for _, fn := range r.closeFns {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newRepositories(ctx context.Context, env *config.StorageEnv) (*repositories, error) {
	switch env.Type {
	case "sqlite":
		db, err := sqlitedb.Open(ctx, env.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return sqliteRepositories(db), nil
	case "s3":
		store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:   env.S3Bucket,
			Prefix:   env.S3Prefix,
			Region:   env.S3Region,
			Endpoint: env.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		return yamlRepositories(store), nil
	case "local", "":
		store, err := storage.NewLocalStorage(env.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage: %w", err)
		}
		repos := yamlRepositories(store)
		repos.local = store
		repos.closeFns = append(repos.closeFns, store.Close)
		return repos, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", env.Type)
	}
}

func yamlRepositories(store storage.Storage) *repositories {
	return &repositories{
		task:    taskrepo.NewYAMLRepository(store),
		project: projectrepo.NewYAMLRepository(store),
		agent:   agentrepo.NewYAMLRepository(store),
		run:     runrepo.NewYAMLRepository(store),
		pushSub: pushsubrepo.NewYAMLRepository(store),
		ping: func(ctx context.Context) error {
			_, err := store.List(ctx, projectrepo.ProjectsPrefix)
			return err
		},
	}
}

func sqliteRepositories(db *sql.DB) *repositories {
	return &repositories{
		task:     taskrepo.NewSQLiteRepository(db),
		project:  projectrepo.NewSQLiteRepository(db),
		agent:    agentrepo.NewSQLiteRepository(db),
		run:      runrepo.NewSQLiteRepository(db),
		pushSub:  pushsubrepo.NewSQLiteRepository(db),
		ping:     db.PingContext,
		closeFns: []func() error{db.Close},
	}
}
