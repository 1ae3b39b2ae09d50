package project

import "context"

type MutateFunc func(p *Project) error

type Repository interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context, f Filter) ([]*Project, int, error)
	// Mutate is an atomic read-modify-write; a non-empty ownerID must match
	// the stored owner.
	Mutate(ctx context.Context, id, ownerID string, fn MutateFunc) (*Project, error)
	// NextTaskNumber atomically increments and returns the project's task
	// counter. The first call returns 1.
	NextTaskNumber(ctx context.Context, id string) (int, error)
}
