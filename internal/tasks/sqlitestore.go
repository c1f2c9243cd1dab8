package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists tasks in the tasks table. The caller owns db.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an opened database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const taskColumns = `id, status, prompt, mode, schema_json, timeout_ms, model, permission_mode,
	workspace_path, tags_json, created_at, started_at, completed_at, result_json, error_json, duration, cost`

// Create inserts a new task.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) error {
	row, err := toRow(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, row.args()...)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get reads a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	return getTask(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, q queryer, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

// List returns tasks matching filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	result := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// Update applies fn inside a transaction.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	t, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}

	row, err := toRow(t)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ?, started_at = ?, completed_at = ?,
		result_json = ?, error_json = ?, duration = ?, cost = ?, workspace_path = ?, tags_json = ?
		WHERE id = ?`,
		row.status, row.startedAt, row.completedAt, row.result, row.err, row.duration, row.cost,
		row.workspace, row.tags, t.ID)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

// Close implements Store. The database itself is closed by its owner.
func (s *SQLiteStore) Close() error { return nil }

type taskRow struct {
	id, status, prompt, mode string
	schema                   sql.NullString
	timeout                  sql.NullInt64
	model, permission        sql.NullString
	workspace, tags          sql.NullString
	createdAt                int64
	startedAt, completedAt   sql.NullInt64
	result, err              sql.NullString
	duration                 sql.NullInt64
	cost                     sql.NullFloat64
}

func (r *taskRow) args() []any {
	return []any{
		r.id, r.status, r.prompt, r.mode, r.schema, r.timeout, r.model, r.permission,
		r.workspace, r.tags, r.createdAt, r.startedAt, r.completedAt, r.result, r.err, r.duration, r.cost,
	}
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func toRow(t *Task) (*taskRow, error) {
	r := &taskRow{
		id:          t.ID,
		status:      string(t.Status),
		prompt:      t.Prompt,
		mode:        string(t.Mode),
		schema:      nullString(string(t.Schema)),
		model:       nullString(t.Model),
		permission:  nullString(t.PermissionMode),
		workspace:   nullString(t.WorkspacePath),
		createdAt:   t.CreatedAt.UnixNano(),
		startedAt:   nullTime(t.StartedAt),
		completedAt: nullTime(t.CompletedAt),
	}
	if t.Timeout > 0 {
		r.timeout = sql.NullInt64{Int64: t.Timeout, Valid: true}
	}
	if t.Duration != nil {
		r.duration = sql.NullInt64{Int64: *t.Duration, Valid: true}
	}
	if t.Cost != nil {
		r.cost = sql.NullFloat64{Float64: *t.Cost, Valid: true}
	}

	var err error
	if r.tags, err = nullJSON(t.Tags, len(t.Tags) > 0); err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	if r.result, err = nullJSON(t.Result, t.Result != nil); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if r.err, err = nullJSON(t.Error, t.Error != nil); err != nil {
		return nil, fmt.Errorf("encode error: %w", err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*Task, error) {
	var r taskRow
	if err := sc.Scan(&r.id, &r.status, &r.prompt, &r.mode, &r.schema, &r.timeout, &r.model, &r.permission,
		&r.workspace, &r.tags, &r.createdAt, &r.startedAt, &r.completedAt, &r.result, &r.err, &r.duration, &r.cost); err != nil {
		return nil, err
	}

	t := &Task{
		ID:             r.id,
		Status:         Status(r.status),
		Prompt:         r.prompt,
		Mode:           Mode(r.mode),
		Model:          r.model.String,
		PermissionMode: r.permission.String,
		WorkspacePath:  r.workspace.String,
		CreatedAt:      time.Unix(0, r.createdAt),
	}
	if r.schema.Valid {
		t.Schema = json.RawMessage(r.schema.String)
	}
	if r.timeout.Valid {
		t.Timeout = r.timeout.Int64
	}
	if r.startedAt.Valid {
		ts := time.Unix(0, r.startedAt.Int64)
		t.StartedAt = &ts
	}
	if r.completedAt.Valid {
		ts := time.Unix(0, r.completedAt.Int64)
		t.CompletedAt = &ts
	}
	if r.duration.Valid {
		d := r.duration.Int64
		t.Duration = &d
	}
	if r.cost.Valid {
		c := r.cost.Float64
		t.Cost = &c
	}
	if r.tags.Valid {
		if err := json.Unmarshal([]byte(r.tags.String), &t.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", r.id, err)
		}
	}
	if r.result.Valid {
		t.Result = &Result{}
		if err := json.Unmarshal([]byte(r.result.String), t.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", r.id, err)
		}
	}
	if r.err.Valid {
		t.Error = &Error{}
		if err := json.Unmarshal([]byte(r.err.String), t.Error); err != nil {
			return nil, fmt.Errorf("decode error of %s: %w", r.id, err)
		}
	}
	return t, nil
}
