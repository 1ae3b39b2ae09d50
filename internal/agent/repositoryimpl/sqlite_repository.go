package repositoryimpl

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kazz187/agentdash/internal/agent"
	"github.com/kazz187/agentdash/pkg/cerr"
	"github.com/kazz187/agentdash/pkg/sqlitedb"
	"github.com/kazz187/agentdash/pkg/storage"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const agentColumns = `id, owner_id, name, url, description, archived, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*agent.Agent, error) {
	var a agent.Agent
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.URL, &a.Description, &a.Archived, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, a *agent.Agent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.Name, a.URL, a.Description, a.Archived, a.CreatedAt, a.UpdatedAt)
	if sqlitedb.IsUniqueViolation(err) {
		return cerr.NewError(cerr.AlreadyExists, "agent already exists", err)
	}
	if err != nil {
		return cerr.WrapStorageWriteError("agent", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*agent.Agent, error) {
	a, err := scanAgent(r.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.WrapStorageReadError("agent", storage.ErrNotFound)
	}
	if err != nil {
		return nil, cerr.WrapStorageReadError("agent", err)
	}
	return a, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f agent.Filter) ([]*agent.Agent, int, error) {
	where := ` WHERE archived = ?`
	args := []any{f.Archived}
	if f.OwnerID != "" {
		where += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`+where, args...).Scan(&total); err != nil {
		return nil, 0, cerr.WrapStorageReadError("agents", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents`+where+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("agents", err)
	}
	defer rows.Close()

	var agents []*agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, 0, cerr.WrapStorageReadError("agents", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, cerr.WrapStorageReadError("agents", err)
	}
	return agents, total, nil
}

func (r *SQLiteRepository) Mutate(ctx context.Context, id, ownerID string, fn agent.MutateFunc) (*agent.Agent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cerr.WrapStorageWriteError("agent", err)
	}
	defer tx.Rollback()

	a, err := scanAgent(tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.WrapStorageReadError("agent", storage.ErrNotFound)
	}
	if err != nil {
		return nil, cerr.WrapStorageReadError("agent", err)
	}
	if ownerID != "" && a.OwnerID != ownerID {
		return nil, cerr.NewOwnershipError("agent")
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE agents SET name = ?, url = ?, description = ?, archived = ?, updated_at = ? WHERE id = ?`,
		a.Name, a.URL, a.Description, a.Archived, a.UpdatedAt, a.ID)
	if err != nil {
		return nil, cerr.WrapStorageWriteError("agent", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, cerr.WrapStorageWriteError("agent", err)
	}
	return a, nil
}
