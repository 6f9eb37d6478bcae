package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, cfg Config) (Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS delivery_records (
			task_id TEXT NOT NULL,
			platform_id TEXT NOT NULL,
			delivered_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (task_id, platform_id)
		);
		CREATE INDEX IF NOT EXISTS idx_delivery_records_seen ON delivery_records(last_seen_at);
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create delivery_records: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Exists(ctx context.Context, taskID, platformID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM delivery_records WHERE task_id = $1 AND platform_id = $2)
	`, taskID, platformID).Scan(&ok)
	return ok, err
}

func (s *postgresStore) Record(ctx context.Context, taskID, platformID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_records (task_id, platform_id, delivered_at, last_seen_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (task_id, platform_id) DO NOTHING
	`, taskID, platformID, at)
	return err
}

func (s *postgresStore) Touch(ctx context.Context, taskID, platformID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE delivery_records SET last_seen_at = $3
		WHERE task_id = $1 AND platform_id = $2 AND last_seen_at < $3
	`, taskID, platformID, at)
	return err
}

func (s *postgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM delivery_records WHERE last_seen_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *postgresStore) Forget(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM delivery_records WHERE task_id = $1`, taskID)
	return err
}

func (s *postgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
