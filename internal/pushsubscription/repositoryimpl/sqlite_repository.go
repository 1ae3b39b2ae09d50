package repositoryimpl

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kazz187/agentdash/internal/pushsubscription"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/storage"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, s *pushsubscription.Subscription) (*pushsubscription.Subscription, error) {
	var out pushsubscription.Subscription
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (id, owner_id, endpoint, p256dh_key, auth_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (endpoint) DO UPDATE SET
			owner_id = excluded.owner_id, p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key
		RETURNING id, owner_id, endpoint, p256dh_key, auth_key, created_at`,
		s.ID, s.OwnerID, s.Endpoint, s.P256dhKey, s.AuthKey, s.CreatedAt,
	).Scan(&out.ID, &out.OwnerID, &out.Endpoint, &out.P256dhKey, &out.AuthKey, &out.CreatedAt)
	if err != nil {
		return nil, cerr.WrapStorageWriteError("push subscription", err)
	}
	return &out, nil
}

func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]*pushsubscription.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, endpoint, p256dh_key, auth_key, created_at
		FROM push_subscriptions WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, cerr.WrapStorageReadError("push subscriptions", err)
	}
	defer rows.Close()

	var subs []*pushsubscription.Subscription
	for rows.Next() {
		var s pushsubscription.Subscription
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Endpoint, &s.P256dhKey, &s.AuthKey, &s.CreatedAt); err != nil {
			return nil, cerr.WrapStorageReadError("push subscriptions", err)
		}
		subs = append(subs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.WrapStorageReadError("push subscriptions", err)
	}
	return subs, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id)
	if err != nil {
		return cerr.WrapStorageDeleteError("push subscription", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.WrapStorageDeleteError("push subscription", storage.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByEndpoint(ctx context.Context, ownerID, endpoint string) error {
	var storedOwner string
	err := r.db.QueryRowContext(ctx, `SELECT owner_id FROM push_subscriptions WHERE endpoint = ?`, endpoint).Scan(&storedOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return cerr.NewError(cerr.NotFound, "push subscription not found", nil)
	}
	if err != nil {
		return cerr.WrapStorageReadError("push subscription", err)
	}
	if storedOwner != ownerID {
		return cerr.NewOwnershipError("push subscription")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return cerr.WrapStorageDeleteError("push subscription", err)
	}
	return nil
}
