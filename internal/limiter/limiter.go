// Package limiter throttles repeated failed login attempts per account key.
package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Defaults: 5 failures within 15 minutes lock the key for 15 minutes.
const (
	DefaultWindow   = 15 * time.Minute
	DefaultMaxFails = 5
	DefaultBlockFor = 15 * time.Minute
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, key string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, key string) (bool, time.Duration, error)
}

// Key derives a stable limiter key from an email so raw addresses are not persisted.
func Key(email string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h[:])
}

// Nop never blocks.
type Nop struct{}

func (Nop) Allow(context.Context, string) (bool, time.Duration, error)   { return true, 0, nil }
func (Nop) Success(context.Context, string) error                        { return nil }
func (Nop) Failure(context.Context, string) (bool, time.Duration, error) { return false, 0, nil }
