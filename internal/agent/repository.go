package agent

import "context"

type MutateFunc func(a *Agent) error

type Repository interface {
	Create(ctx context.Context, a *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	List(ctx context.Context, f Filter) ([]*Agent, int, error)
	Mutate(ctx context.Context, id, ownerID string, fn MutateFunc) (*Agent, error)
}
