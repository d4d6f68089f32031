package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter shared by every client pointed at the same
// database, so lockouts survive CLI restarts.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter. Non-positive arguments fall back to defaults.
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxFails <= 0 {
		maxFails = DefaultMaxFails
	}
	if blockFor <= 0 {
		blockFor = DefaultBlockFor
	}
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_login_attempts WHERE key=$1`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, key).Scan(&blockedUntil)
	switch {
	case err == nil:
		now := l.now()
		if blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success clears the counters for key.
func (l *PG) Success(ctx context.Context, key string) error {
	const q = `DELETE FROM auth_login_attempts WHERE key=$1`
	_, err := l.pool.Exec(ctx, q, key)
	return err
}

// Failure records a failed attempt; the counter restarts when the previous
// failure is older than the window.
func (l *PG) Failure(ctx context.Context, key string) (bool, time.Duration, error) {
	const q = `
INSERT INTO auth_login_attempts (key, fail_count, blocked_until, updated_at)
VALUES ($1, 1, 'epoch', now())
ON CONFLICT (key) DO UPDATE
SET
  fail_count = CASE WHEN now() - auth_login_attempts.updated_at > $2::interval THEN 1 ELSE auth_login_attempts.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, key, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE auth_login_attempts SET blocked_until=$2, fail_count=0 WHERE key=$1`
	if _, err := l.pool.Exec(ctx, upd, key, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
