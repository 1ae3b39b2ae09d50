package pushsubscription

import "context"

type Repository interface {
	// Upsert stores s, replacing the keys of an existing subscription with the
	// same endpoint.
	Upsert(ctx context.Context, s *Subscription) (*Subscription, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
	DeleteByEndpoint(ctx context.Context, ownerID, endpoint string) error
}
