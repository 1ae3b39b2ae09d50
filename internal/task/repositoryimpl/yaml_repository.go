package repositoryimpl

import (
	"context"

	"github.com/kazz187/agentdash/internal/task"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/storage"
	"github.com/kazz187/agentdash/pkg/yamlstore"
)

const TasksPrefix = "tasks"

type YAMLRepository struct {
	tasks *yamlstore.Collection[task.Task]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{tasks: yamlstore.New[task.Task](s, TasksPrefix, "task")}
}

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	return r.tasks.Create(ctx, t.ID, t)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	return r.tasks.Get(ctx, id)
}

func (r *YAMLRepository) List(ctx context.Context, f task.Filter) ([]*task.Task, int, error) {
	all, err := r.tasks.Scan(ctx, false, f.Match)
	if err != nil {
		return nil, 0, err
	}
	page, total := yamlstore.Page(all, f.Limit, f.Offset)
	return page, total, nil
}

func (r *YAMLRepository) Mutate(ctx context.Context, id, ownerID string, fn task.MutateFunc) (*task.Task, error) {
	return r.tasks.Update(ctx, id, func(t *task.Task) error {
		if err := checkOwner(t, ownerID); err != nil {
			return err
		}
		return fn(t)
	})
}

func (r *YAMLRepository) Delete(ctx context.Context, id, ownerID string) error {
	var check func(*task.Task) error
	if ownerID != "" {
		check = func(t *task.Task) error { return checkOwner(t, ownerID) }
	}
	return r.tasks.Delete(ctx, id, check)
}

func checkOwner(t *task.Task, ownerID string) error {
	if ownerID != "" && t.OwnerID != ownerID {
		return cerr.NewOwnershipError("task")
	}
	return nil
}
