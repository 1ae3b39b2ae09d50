package repositoryimpl

import (
	"context"

	"github.com/kazz187/agentdash/internal/pushsubscription"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/storage"
	"github.com/kazz187/agentdash/pkg/yamlstore"
)

const PushSubscriptionsPrefix = "push_subscriptions"

type YAMLRepository struct {
	subs *yamlstore.Collection[pushsubscription.Subscription]
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{
		subs: yamlstore.New[pushsubscription.Subscription](s, PushSubscriptionsPrefix, "push subscription"),
	}
}

// Upsert keys subscriptions by endpoint. Re-registering an endpoint moves it
// to the new owner and keys but keeps its id.
func (r *YAMLRepository) Upsert(ctx context.Context, s *pushsubscription.Subscription) (*pushsubscription.Subscription, error) {
	saved := s
	err := r.subs.Locked(ctx, func() error {
		existing, err := r.byEndpoint(ctx, s.Endpoint)
		if err != nil {
			return err
		}
		if existing != nil {
			existing.OwnerID = s.OwnerID
			existing.P256dhKey = s.P256dhKey
			existing.AuthKey = s.AuthKey
			saved = existing
		}
		return r.subs.Put(ctx, saved.ID, saved)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *YAMLRepository) ListByOwner(ctx context.Context, ownerID string) ([]*pushsubscription.Subscription, error) {
	return r.subs.Scan(ctx, false, func(s *pushsubscription.Subscription) bool {
		return s.OwnerID == ownerID
	})
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	return r.subs.Delete(ctx, id, nil)
}

func (r *YAMLRepository) DeleteByEndpoint(ctx context.Context, ownerID, endpoint string) error {
	return r.subs.Locked(ctx, func() error {
		s, err := r.byEndpoint(ctx, endpoint)
		if err != nil {
			return err
		}
		if s == nil {
			return cerr.NewError(cerr.NotFound, "push subscription not found", nil)
		}
		if s.OwnerID != ownerID {
			return cerr.NewOwnershipError("push subscription")
		}
		return r.subs.Remove(ctx, s.ID)
	})
}

func (r *YAMLRepository) byEndpoint(ctx context.Context, endpoint string) (*pushsubscription.Subscription, error) {
	found, err := r.subs.Scan(ctx, false, func(s *pushsubscription.Subscription) bool {
		return s.Endpoint == endpoint
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}
