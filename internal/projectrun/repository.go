package projectrun

import "context"

type Repository interface {
	Create(ctx context.Context, r *ProjectRun) error
	Get(ctx context.Context, id string) (*ProjectRun, error)
	List(ctx context.Context, f Filter) ([]*ProjectRun, int, error)
	// Update replaces the stored run. Only the project poller writes runs
	// after creation.
	Update(ctx context.Context, r *ProjectRun) error
}
