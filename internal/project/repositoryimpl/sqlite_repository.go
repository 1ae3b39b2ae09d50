package repositoryimpl

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kazz187/agentdash/internal/project"
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

const projectColumns = `id, owner_id, name, key, description, repository_url, key_files,
	archived, task_counter, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Key, &p.Description, &p.RepositoryURL, &p.KeyFiles,
		&p.Archived, &p.TaskCounter, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, p *project.Project) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.Key, p.Description, p.RepositoryURL, p.KeyFiles,
		p.Archived, p.TaskCounter, p.CreatedAt, p.UpdatedAt)
	if sqlitedb.IsUniqueViolation(err) {
		return cerr.NewError(cerr.AlreadyExists, "project already exists", err)
	}
	if err != nil {
		return cerr.WrapStorageWriteError("project", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.WrapStorageReadError("project", storage.ErrNotFound)
	}
	if err != nil {
		return nil, cerr.WrapStorageReadError("project", err)
	}
	return p, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f project.Filter) ([]*project.Project, int, error) {
	where := ` WHERE archived = ?`
	args := []any{f.Archived}
	if f.OwnerID != "" {
		where += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`+where, args...).Scan(&total); err != nil {
		return nil, 0, cerr.WrapStorageReadError("projects", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects`+where+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("projects", err)
	}
	defer rows.Close()

	var projects []*project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, cerr.WrapStorageReadError("projects", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, cerr.WrapStorageReadError("projects", err)
	}
	return projects, total, nil
}

func (r *SQLiteRepository) Mutate(ctx context.Context, id, ownerID string, fn project.MutateFunc) (*project.Project, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cerr.WrapStorageWriteError("project", err)
	}
	defer tx.Rollback()

	p, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.WrapStorageReadError("project", storage.ErrNotFound)
	}
	if err != nil {
		return nil, cerr.WrapStorageReadError("project", err)
	}
	if ownerID != "" && p.OwnerID != ownerID {
		return nil, cerr.NewOwnershipError("project")
	}
	if err := fn(p); err != nil {
		return nil, err
	}

	// key and task_counter are never written here.
	_, err = tx.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, repository_url = ?, key_files = ?,
			archived = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.RepositoryURL, p.KeyFiles, p.Archived, p.UpdatedAt, p.ID)
	if err != nil {
		return nil, cerr.WrapStorageWriteError("project", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, cerr.WrapStorageWriteError("project", err)
	}
	return p, nil
}

func (r *SQLiteRepository) NextTaskNumber(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`UPDATE projects SET task_counter = task_counter + 1 WHERE id = ? RETURNING task_counter`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, cerr.WrapStorageReadError("project", storage.ErrNotFound)
	}
	if err != nil {
		return 0, cerr.WrapStorageWriteError("project", err)
	}
	return n, nil
}
