package repositoryimpl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kazz187/agentdash/internal/task"
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

const taskColumns = `id, owner_id, code, title, description, state, priority, project_id,
	agent_id, tags, remote_job_id, branch_name, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t    task.Task
		tags string
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Code, &t.Title, &t.Description, &t.State, &t.Priority,
		&t.ProjectID, &t.AgentID, &tags, &t.RemoteJobID, &t.BranchName, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if len(t.Tags) == 0 {
		t.Tags = nil
	}
	return &t, nil
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func (r *SQLiteRepository) Create(ctx context.Context, t *task.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Code, t.Title, t.Description, t.State, t.Priority, t.ProjectID,
		t.AgentID, encodeTags(t.Tags), t.RemoteJobID, t.BranchName, t.CreatedAt, t.UpdatedAt)
	if sqlitedb.IsUniqueViolation(err) {
		return cerr.NewError(cerr.AlreadyExists, "task already exists", err)
	}
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.WrapStorageReadError("task", storage.ErrNotFound)
	}
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	return t, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f task.Filter) ([]*task.Task, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, f.State)
	}
	if f.InFlight {
		conds = append(conds, "remote_job_id != '' AND state IN (?, ?)")
		args = append(args, task.StatePending, task.StateRunning)
	}
	if f.Query != "" {
		conds = append(conds, "(instr(lower(code), ?) > 0 OR instr(lower(title), ?) > 0 OR instr(lower(description), ?) > 0)")
		q := strings.ToLower(f.Query)
		args = append(args, q, q, q)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, cerr.WrapStorageReadError("tasks", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("tasks", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, cerr.WrapStorageReadError("tasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, cerr.WrapStorageReadError("tasks", err)
	}
	return tasks, total, nil
}

func (r *SQLiteRepository) Mutate(ctx context.Context, id, ownerID string, fn task.MutateFunc) (*task.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cerr.WrapStorageWriteError("task", err)
	}
	defer tx.Rollback()

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.WrapStorageReadError("task", storage.ErrNotFound)
	}
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	if ownerID != "" && t.OwnerID != ownerID {
		return nil, cerr.NewOwnershipError("task")
	}
	if err := fn(t); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, state = ?, priority = ?, agent_id = ?, tags = ?,
			remote_job_id = ?, branch_name = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Description, t.State, t.Priority, t.AgentID, encodeTags(t.Tags),
		t.RemoteJobID, t.BranchName, t.UpdatedAt, t.ID)
	if err != nil {
		return nil, cerr.WrapStorageWriteError("task", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, cerr.WrapStorageWriteError("task", err)
	}
	return t, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id, ownerID string) error {
	query := `DELETE FROM tasks WHERE id = ?`
	args := []any{id}
	if ownerID != "" {
		t, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if t.OwnerID != ownerID {
			return cerr.NewOwnershipError("task")
		}
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.WrapStorageDeleteError("task", storage.ErrNotFound)
	}
	return nil
}
