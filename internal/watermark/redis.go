package watermark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-redis/redis/v8"
)

// RedisStore keeps the last run time under a single key, for deployments
// where the local database does not survive between runs.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStore(client, key), nil
}

func (s *RedisStore) LastRunTime(ctx context.Context) (time.Time, bool, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get %s: %w", s.key, err)
	}

	v = strings.TrimSpace(v)
	if v == "" || v == "None" {
		return time.Time{}, false, nil
	}
	t, err := dateparse.ParseIn(v, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last run %q: %w", v, err)
	}
	return t.UTC(), true, nil
}

func (s *RedisStore) RecordRun(ctx context.Context, startedAt time.Time) error {
	v := startedAt.UTC().Format(time.RFC3339Nano)
	if err := s.client.Set(ctx, s.key, v, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
