package dedup

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Store remembers which items were delivered for which task.
//
// Contract:
//   - Record is idempotent; recording an existing key is not an error.
//   - Touch refreshes the last-seen time used by retention.
//   - Keys are scoped per task: the same item may go to two tasks.
type Store interface {
	Exists(ctx context.Context, taskID, platformID string) (bool, error)
	Record(ctx context.Context, taskID, platformID string, at time.Time) error
	Touch(ctx context.Context, taskID, platformID string, at time.Time) error
	// Prune deletes records last seen before the cutoff and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Forget(ctx context.Context, taskID string) error
	Close() error
}

// Config selects and configures the backend.
//
// Driver values:
//   - "sqlite": table next to the tasks in the registry database (default)
//   - "redis": one key per record, expired by TTL
//   - "postgres": table in an external Postgres database
type Config struct {
	Driver        string        `mapstructure:"driver"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
}

// Open initializes the configured store. db is the registry database and is
// only used by the sqlite driver; closing the store leaves it open.
func Open(ctx context.Context, cfg Config, db *sql.DB) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		if db == nil {
			return nil, errors.New("sqlite dedup store needs the registry database")
		}
		return NewSQLite(db)
	case "redis":
		return openRedis(ctx, cfg)
	case "postgres", "pgx":
		return openPostgres(ctx, cfg)
	default:
		return nil, errors.New("unknown dedup driver: " + driver)
	}
}
