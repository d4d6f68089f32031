package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/delta-auth/internal/errs"
)

// Redis stores values under "<prefix>:<key>", for hosts that keep sessions
// server side (e.g. a backend-for-frontend sharing sessions across replicas).
type Redis struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration // 0 = no expiry
}

// NewRedis wraps a go-redis client. prefix namespaces the keys, typically per device or profile.
func NewRedis(rdb redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "delta-auth"
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *Redis) k(key string) string { return r.prefix + ":" + key }

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, r.k(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", errs.ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, r.k(key), value, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.k(k)
	}
	return r.rdb.Del(ctx, full...).Err()
}
