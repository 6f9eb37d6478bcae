package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"curator/internal/domain"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrClaimed  = errors.New("task already claimed")
)

// RegistryError wraps a persistence failure. The scheduler treats these as
// retryable: a claim that failed was rolled back, a record that failed is
// attempted again on the next tick.
type RegistryError struct {
	Op  string
	Err error
}

func (e *RegistryError) Error() string { return "registry " + e.Op + ": " + e.Err.Error() }
func (e *RegistryError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrClaimed) {
		return err
	}
	return &RegistryError{Op: op, Err: err}
}

// EnsureSchema creates tables if they don't exist. Times are unix milliseconds.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  platform TEXT NOT NULL,
  source_query TEXT NOT NULL,
  destination_id TEXT NOT NULL,
  interval_seconds INTEGER NOT NULL CHECK(interval_seconds > 0),
  enabled INTEGER NOT NULL DEFAULT 1,
  next_run_at INTEGER NOT NULL,
  claimed_at INTEGER,
  options TEXT NOT NULL DEFAULT '{}',
  last_status TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(enabled, claimed_at, next_run_at, id);
`
	_, err := db.Exec(schema)
	return err
}

// Repository is the durable set of scheduled tasks.
type Repository interface {
	// ListDue returns enabled, unclaimed tasks with next_run_at <= now,
	// earliest first (ties by id), and claims them in the same transaction.
	ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledTask, error)
	Claim(ctx context.Context, id string, now time.Time) (domain.ScheduledTask, error)
	RecordRun(ctx context.Context, id string, nextRunAt time.Time, status domain.TaskStatus) error
	ReleaseClaim(ctx context.Context, id string) error
	RecoverClaims(ctx context.Context) (int, error)

	Create(ctx context.Context, t domain.ScheduledTask) (domain.ScheduledTask, error)
	Get(ctx context.Context, id string) (domain.ScheduledTask, error)
	List(ctx context.Context) ([]domain.ScheduledTask, error)
	Update(ctx context.Context, t domain.ScheduledTask) error
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const taskColumns = `id,name,platform,source_query,destination_id,interval_seconds,enabled,next_run_at,claimed_at,options,last_status,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.ScheduledTask, error) {
	var (
		t                  domain.ScheduledTask
		platform           string
		nextRun, created   int64
		updated            int64
		claimed            sql.NullInt64
		options, lastState string
	)
	if err := row.Scan(&t.ID, &t.Name, &platform, &t.SourceQuery, &t.DestinationID, &t.IntervalSeconds, &t.Enabled, &nextRun, &claimed, &options, &lastState, &created, &updated); err != nil {
		return domain.ScheduledTask{}, err
	}
	t.Platform = domain.Platform(platform)
	t.NextRunAt = time.UnixMilli(nextRun)
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	if claimed.Valid {
		c := time.UnixMilli(claimed.Int64)
		t.ClaimedAt = &c
	}
	// Unknown fields written by newer versions are ignored.
	if options != "" {
		if err := json.Unmarshal([]byte(options), &t.Options); err != nil {
			return domain.ScheduledTask{}, fmt.Errorf("decode options for %s: %w", t.ID, err)
		}
	}
	if lastState != "" {
		if err := json.Unmarshal([]byte(lastState), &t.LastStatus); err != nil {
			return domain.ScheduledTask{}, fmt.Errorf("decode last status for %s: %w", t.ID, err)
		}
	}
	if t.LastStatus.State == "" {
		t.LastStatus.State = domain.StateNever
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]domain.ScheduledTask, error) {
	defer rows.Close()
	var tasks []domain.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *sqliteRepo) ListDue(ctx context.Context, now time.Time) (_ []domain.ScheduledTask, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("list due", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE enabled=1 AND claimed_at IS NULL AND next_run_at <= ?
ORDER BY next_run_at ASC, id ASC
`, now.UnixMilli())
	if err != nil {
		return nil, wrap("list due", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, wrap("list due", err)
	}

	claimedAt := now.UnixMilli()
	for i := range tasks {
		if _, err = tx.ExecContext(ctx, `UPDATE tasks SET claimed_at=? WHERE id=? AND claimed_at IS NULL`, claimedAt, tasks[i].ID); err != nil {
			return nil, wrap("claim", err)
		}
		c := time.UnixMilli(claimedAt)
		tasks[i].ClaimedAt = &c
	}

	if err = tx.Commit(); err != nil {
		return nil, wrap("claim", err)
	}
	return tasks, nil
}

func (r *sqliteRepo) Claim(ctx context.Context, id string, now time.Time) (domain.ScheduledTask, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET claimed_at=? WHERE id=? AND claimed_at IS NULL`, now.UnixMilli(), id)
	if err != nil {
		return domain.ScheduledTask{}, wrap("claim", err)
	}
	n, _ := res.RowsAffected()
	t, err := r.Get(ctx, id)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if n == 0 {
		return domain.ScheduledTask{}, ErrClaimed
	}
	return t, nil
}

func (r *sqliteRepo) RecordRun(ctx context.Context, id string, nextRunAt time.Time, status domain.TaskStatus) error {
	st, err := json.Marshal(status)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET next_run_at=?, last_status=?, claimed_at=NULL, updated_at=? WHERE id=?`,
		nextRunAt.UnixMilli(), string(st), time.Now().UnixMilli(), id)
	if err != nil {
		return wrap("record run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) ReleaseClaim(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET claimed_at=NULL WHERE id=?`, id)
	return wrap("release claim", err)
}

// RecoverClaims clears claims left behind by a process that stopped mid-run.
// The schedule is not advanced, so those tasks are picked up on the next tick.
func (r *sqliteRepo) RecoverClaims(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET claimed_at=NULL WHERE claimed_at IS NOT NULL`)
	if err != nil {
		return 0, wrap("recover claims", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *sqliteRepo) Create(ctx context.Context, t domain.ScheduledTask) (domain.ScheduledTask, error) {
	if t.ID == "" {
		t.ID = "tsk_" + uuid.NewString()
	}
	now := time.Now()
	if t.NextRunAt.IsZero() {
		t.NextRunAt = now
	}
	t.CreatedAt, t.UpdatedAt = now, now
	t.LastStatus = domain.TaskStatus{State: domain.StateNever}
	opts, err := json.Marshal(t.Options)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	st, _ := json.Marshal(t.LastStatus)

	_, err = r.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,NULL,?,?,?,?)
`, t.ID, t.Name, string(t.Platform), t.SourceQuery, t.DestinationID, t.IntervalSeconds, t.Enabled,
		t.NextRunAt.UnixMilli(), string(opts), string(st), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return domain.ScheduledTask{}, wrap("create", err)
	}
	t.CreatedAt = time.UnixMilli(now.UnixMilli())
	t.UpdatedAt = t.CreatedAt
	t.NextRunAt = time.UnixMilli(t.NextRunAt.UnixMilli())
	return t, nil
}

func (r *sqliteRepo) Get(ctx context.Context, id string) (domain.ScheduledTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledTask{}, ErrNotFound
	}
	if err != nil {
		return domain.ScheduledTask{}, wrap("get", err)
	}
	return t, nil
}

func (r *sqliteRepo) List(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, wrap("list", err)
	}
	tasks, err := scanTasks(rows)
	return tasks, wrap("list", err)
}

// Update rewrites the configuration fields of a task. The schedule state
// (next_run_at, claim, last status) belongs to the scheduler and is left alone.
func (r *sqliteRepo) Update(ctx context.Context, t domain.ScheduledTask) error {
	opts, err := json.Marshal(t.Options)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET name=?,platform=?,source_query=?,destination_id=?,interval_seconds=?,enabled=?,options=?,updated_at=?
WHERE id=?`, t.Name, string(t.Platform), t.SourceQuery, t.DestinationID, t.IntervalSeconds, t.Enabled, string(opts), time.Now().UnixMilli(), t.ID)
	if err != nil {
		return wrap("update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return wrap("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET enabled=?, updated_at=? WHERE id=?`, enabled, time.Now().UnixMilli(), id)
	if err != nil {
		return wrap("set enabled", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
