package repositoryimpl

import (
	"context"

	"github.com/kazz187/agentdash/internal/project"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/storage"
	"github.com/kazz187/agentdash/pkg/yamlstore"
)

const ProjectsPrefix = "projects"

type YAMLRepository struct {
	projects *yamlstore.Collection[project.Project]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{projects: yamlstore.New[project.Project](s, ProjectsPrefix, "project")}
}

func (r *YAMLRepository) Create(ctx context.Context, p *project.Project) error {
	return r.projects.Create(ctx, p.ID, p)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	return r.projects.Get(ctx, id)
}

func (r *YAMLRepository) List(ctx context.Context, f project.Filter) ([]*project.Project, int, error) {
	all, err := r.projects.Scan(ctx, false, f.Match)
	if err != nil {
		return nil, 0, err
	}
	page, total := yamlstore.Page(all, f.Limit, f.Offset)
	return page, total, nil
}

// Mutate never changes the task counter; only NextTaskNumber advances it.
func (r *YAMLRepository) Mutate(ctx context.Context, id, ownerID string, fn project.MutateFunc) (*project.Project, error) {
	return r.projects.Update(ctx, id, func(p *project.Project) error {
		if ownerID != "" && p.OwnerID != ownerID {
			return cerr.NewOwnershipError("project")
		}
		counter := p.TaskCounter
		if err := fn(p); err != nil {
			return err
		}
		p.TaskCounter = counter
		return nil
	})
}

func (r *YAMLRepository) NextTaskNumber(ctx context.Context, id string) (int, error) {
	p, err := r.projects.Update(ctx, id, func(p *project.Project) error {
		p.TaskCounter++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return p.TaskCounter, nil
}
