package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func openRedis(ctx context.Context, cfg Config) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, cfg.KeyPrefix, cfg.Retention), nil
}

// NewRedis stores one key per record. Retention is enforced by key TTL, which
// Touch renews; a ttl of zero keeps records forever.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) Store {
	if prefix == "" {
		prefix = "curator"
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *redisStore) key(taskID, platformID string) string {
	return s.prefix + ":delivered:" + taskID + ":" + platformID
}

func (s *redisStore) Exists(ctx context.Context, taskID, platformID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(taskID, platformID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) Record(ctx context.Context, taskID, platformID string, at time.Time) error {
	return s.client.SetNX(ctx, s.key(taskID, platformID), strconv.FormatInt(at.UnixMilli(), 10), s.ttl).Err()
}

func (s *redisStore) Touch(ctx context.Context, taskID, platformID string, _ time.Time) error {
	if s.ttl <= 0 {
		return nil
	}
	return s.client.Expire(ctx, s.key(taskID, platformID), s.ttl).Err()
}

// Prune is a no-op: redis expires records on its own.
func (s *redisStore) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *redisStore) Forget(ctx context.Context, taskID string) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":delivered:"+taskID+":*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return s.client.Del(ctx, batch...).Err()
	}
	return nil
}

func (s *redisStore) Close() error { return s.client.Close() }
