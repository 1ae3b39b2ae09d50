package repositoryimpl

import (
	"context"

	"github.com/kazz187/agentdash/internal/projectrun"
	"github.com/kazz187/agentdash/pkg/storage"
	"github.com/kazz187/agentdash/pkg/yamlstore"
)

const ProjectRunsPrefix = "project_runs"

type YAMLRepository struct {
	runs *yamlstore.Collection[projectrun.ProjectRun]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{runs: yamlstore.New[projectrun.ProjectRun](s, ProjectRunsPrefix, "project run")}
}

func (r *YAMLRepository) Create(ctx context.Context, run *projectrun.ProjectRun) error {
	return r.runs.Create(ctx, run.ID, run)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*projectrun.ProjectRun, error) {
	return r.runs.Get(ctx, id)
}

// List returns runs newest first.
func (r *YAMLRepository) List(ctx context.Context, f projectrun.Filter) ([]*projectrun.ProjectRun, int, error) {
	all, err := r.runs.Scan(ctx, true, f.Match)
	if err != nil {
		return nil, 0, err
	}
	page, total := yamlstore.Page(all, f.Limit, f.Offset)
	return page, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, run *projectrun.ProjectRun) error {
	_, err := r.runs.Update(ctx, run.ID, func(stored *projectrun.ProjectRun) error {
		*stored = *run
		return nil
	})
	return err
}
