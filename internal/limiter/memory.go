package limiter

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	Fails        []time.Time `json:"fails,omitempty"`
	BlockedUntil time.Time   `json:"blocked_until,omitempty"`
}

// blocked reports the remaining lock, if any.
func (e *entry) blocked(now time.Time) (bool, time.Duration) {
	if e.BlockedUntil.After(now) {
		return true, e.BlockedUntil.Sub(now)
	}
	return false, 0
}

// fail records a failure at now and locks the entry once maxFails fall
// within window.
func (e *entry) fail(now time.Time, window time.Duration, maxFails int, blockFor time.Duration) (bool, time.Duration) {
	cutoff := now.Add(-window)
	kept := e.Fails[:0]
	for _, at := range e.Fails {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	e.Fails = append(kept, now)
	if len(e.Fails) >= maxFails {
		e.BlockedUntil = now.Add(blockFor)
		e.Fails = nil
		return true, blockFor
	}
	return false, 0
}

// withDefaults replaces non-positive settings with the package defaults.
func withDefaults(window time.Duration, maxFails int, blockFor time.Duration) (time.Duration, int, time.Duration) {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxFails <= 0 {
		maxFails = DefaultMaxFails
	}
	if blockFor <= 0 {
		blockFor = DefaultBlockFor
	}
	return window, maxFails, blockFor
}

// Memory is an in-process sliding window limiter.
type Memory struct {
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemory constructs an in-memory limiter. Non-positive arguments fall back to defaults.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	window, maxFails, blockFor = withDefaults(window, maxFails, blockFor)
	return &Memory{
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
		entries:  map[string]*entry{},
	}
}

// WithClock replaces the time source; used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return true, 0, nil
	}
	if blocked, retry := e.blocked(m.now()); blocked {
		return false, retry, nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Failure(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	blocked, retry := e.fail(m.now(), m.window, m.maxFails, m.blockFor)
	return blocked, retry, nil
}
