package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis counts failures in a fixed window per key and places the lock as a
// key with a TTL, so every client sharing the server sees the same state.
type Redis struct {
	rdb      redis.UniversalClient
	prefix   string
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

// NewRedis returns a limiter storing its keys under prefix. Non-positive
// arguments fall back to defaults.
func NewRedis(rdb redis.UniversalClient, prefix string, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	window, maxFails, blockFor = withDefaults(window, maxFails, blockFor)
	return &Redis{rdb: rdb, prefix: prefix, window: window, maxFails: maxFails, blockFor: blockFor}
}

func (l *Redis) failsKey(key string) string { return l.prefix + "login:fails:" + key }
func (l *Redis) blockKey(key string) string { return l.prefix + "login:block:" + key }

func (l *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	ttl, err := l.rdb.PTTL(ctx, l.blockKey(key)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("limiter: redis pttl: %w", err)
	}
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

func (l *Redis) Success(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, l.failsKey(key), l.blockKey(key)).Err(); err != nil {
		return fmt.Errorf("limiter: redis del: %w", err)
	}
	return nil
}

func (l *Redis) Failure(ctx context.Context, key string) (bool, time.Duration, error) {
	fk := l.failsKey(key)
	count, err := l.rdb.Incr(ctx, fk).Result()
	if err != nil {
		return false, 0, fmt.Errorf("limiter: redis incr: %w", err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, fk, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("limiter: redis expire: %w", err)
		}
	}
	if count < int64(l.maxFails) {
		return false, 0, nil
	}
	_, err = l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, l.blockKey(key), "1", l.blockFor)
		p.Del(ctx, fk)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("limiter: redis block: %w", err)
	}
	return true, l.blockFor, nil
}
