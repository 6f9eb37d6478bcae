package dedup

import (
	"context"
	"database/sql"
	"time"
)

type sqliteStore struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) (Store, error) {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS delivery_records (
  task_id TEXT NOT NULL,
  platform_id TEXT NOT NULL,
  delivered_at INTEGER NOT NULL,
  last_seen_at INTEGER NOT NULL,
  PRIMARY KEY (task_id, platform_id)
);
CREATE INDEX IF NOT EXISTS idx_delivery_records_seen ON delivery_records(last_seen_at);
`)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Exists(ctx context.Context, taskID, platformID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM delivery_records WHERE task_id=? AND platform_id=?`, taskID, platformID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) Record(ctx context.Context, taskID, platformID string, at time.Time) error {
	ms := at.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_records(task_id, platform_id, delivered_at, last_seen_at) VALUES(?,?,?,?)
		 ON CONFLICT(task_id, platform_id) DO NOTHING`,
		taskID, platformID, ms, ms)
	return err
}

func (s *sqliteStore) Touch(ctx context.Context, taskID, platformID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_records SET last_seen_at=? WHERE task_id=? AND platform_id=? AND last_seen_at < ?`,
		at.UnixMilli(), taskID, platformID, at.UnixMilli())
	return err
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM delivery_records WHERE last_seen_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) Forget(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delivery_records WHERE task_id=?`, taskID)
	return err
}

// Close is a no-op; the database belongs to the registry.
func (s *sqliteStore) Close() error { return nil }
