package repositoryimpl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kazz187/agentdash/internal/projectrun"
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

const runColumns = `id, owner_id, project_id, remote_project_id, subtasks, active,
	remote_created_at, remote_updated_at, created_at, updated_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*projectrun.ProjectRun, error) {
	var (
		run      projectrun.ProjectRun
		subtasks string
		finished sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.OwnerID, &run.ProjectID, &run.RemoteProjectID, &subtasks, &run.Active,
		&run.RemoteCreatedAt, &run.RemoteUpdatedAt, &run.CreatedAt, &run.UpdatedAt, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(subtasks), &run.Subtasks); err != nil {
		return nil, fmt.Errorf("decode subtasks: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

func encodeSubtasks(subtasks []projectrun.Subtask) (string, error) {
	if subtasks == nil {
		subtasks = []projectrun.Subtask{}
	}
	b, err := json.Marshal(subtasks)
	if err != nil {
		return "", cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal subtasks: %w", err))
	}
	return string(b), nil
}

func (r *SQLiteRepository) Create(ctx context.Context, run *projectrun.ProjectRun) error {
	subtasks, err := encodeSubtasks(run.Subtasks)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO project_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OwnerID, run.ProjectID, run.RemoteProjectID, subtasks, run.Active,
		run.RemoteCreatedAt, run.RemoteUpdatedAt, run.CreatedAt, run.UpdatedAt, nullTime(run))
	if sqlitedb.IsUniqueViolation(err) {
		return cerr.NewError(cerr.AlreadyExists, "project run already exists", err)
	}
	if err != nil {
		return cerr.WrapStorageWriteError("project run", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*projectrun.ProjectRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM project_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.WrapStorageReadError("project run", storage.ErrNotFound)
	}
	if err != nil {
		return nil, cerr.WrapStorageReadError("project run", err)
	}
	return run, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f projectrun.Filter) ([]*projectrun.ProjectRun, int, error) {
	where := ` WHERE 1 = 1`
	var args []any
	if f.OwnerID != "" {
		where += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}
	if f.ProjectID != "" {
		where += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.ActiveOnly {
		where += ` AND active = 1`
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, cerr.WrapStorageReadError("project runs", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM project_runs`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("project runs", err)
	}
	defer rows.Close()

	var runs []*projectrun.ProjectRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, cerr.WrapStorageReadError("project runs", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, cerr.WrapStorageReadError("project runs", err)
	}
	return runs, total, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, run *projectrun.ProjectRun) error {
	subtasks, err := encodeSubtasks(run.Subtasks)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE project_runs SET subtasks = ?, active = ?, remote_created_at = ?, remote_updated_at = ?,
			updated_at = ?, finished_at = ? WHERE id = ?`,
		subtasks, run.Active, run.RemoteCreatedAt, run.RemoteUpdatedAt, run.UpdatedAt, nullTime(run), run.ID)
	if err != nil {
		return cerr.WrapStorageWriteError("project run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.NewError(cerr.NotFound, "project run not found", nil)
	}
	return nil
}

func nullTime(run *projectrun.ProjectRun) sql.NullTime {
	if run.FinishedAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *run.FinishedAt, Valid: true}
}
