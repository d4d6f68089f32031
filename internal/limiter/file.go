package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File keeps limiter state in a JSON document so lockouts outlive the
// process. Writes go through a temp file and rename.
type File struct {
	path     string
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time

	mu sync.Mutex
}

// NewFile stores state at dir/login_attempts.json. Non-positive arguments
// fall back to defaults.
func NewFile(dir string, window time.Duration, maxFails int, blockFor time.Duration) *File {
	window, maxFails, blockFor = withDefaults(window, maxFails, blockFor)
	return &File{
		path:     filepath.Join(dir, "login_attempts.json"),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (f *File) WithClock(now func() time.Time) *File {
	f.now = now
	return f
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// load reads the state. A missing or unreadable document is an empty one.
func (f *File) load() map[string]*entry {
	out := map[string]*entry{}
	b, err := os.ReadFile(f.path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil || out == nil {
		return map[string]*entry{}
	}
	return out
}

func (f *File) save(entries map[string]*entry) error {
	now := f.now()
	for k, e := range entries {
		if blocked, _ := e.blocked(now); !blocked && len(e.Fails) == 0 {
			delete(entries, k)
		}
	}
	if len(entries) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".login_attempts-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("limiter: save %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.load()[key]
	if !ok {
		return true, 0, nil
	}
	if blocked, retry := e.blocked(f.now()); blocked {
		return false, retry, nil
	}
	return true, 0, nil
}

func (f *File) Success(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.load()
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return f.save(entries)
}

func (f *File) Failure(_ context.Context, key string) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.load()
	e, ok := entries[key]
	if !ok {
		e = &entry{}
		entries[key] = e
	}
	blocked, retry := e.fail(f.now(), f.window, f.maxFails, f.blockFor)
	if err := f.save(entries); err != nil {
		return false, 0, err
	}
	return blocked, retry, nil
}
