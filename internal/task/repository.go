package task

import "context"

// MutateFunc edits a freshly read task in place. Returning an error aborts
// the write.
type MutateFunc func(t *Task) error

type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Task, int, error)
	// Mutate performs an atomic read-modify-write of one task. When ownerID
	// is non-empty the stored task must belong to it, otherwise the write is
	// rejected with PermissionDenied. Background workers pass "".
	Mutate(ctx context.Context, id, ownerID string, fn MutateFunc) (*Task, error)
	Delete(ctx context.Context, id, ownerID string) error
}
