// Package storage defines the persisted key/value storage the session store
// writes to, and its concrete backends.
package storage

import (
	"context"
	"errors"

	"github.com/and161185/delta-auth/internal/errs"
)

// Keys under which an authenticated session is persisted.
const (
	KeyToken        = "delta-auth-token"
	KeyRefreshToken = "delta-auth-refresh-token"
	KeyUser         = "delta-auth-user" // JSON-encoded model.User
)

// SessionKeys lists every key written for a session.
var SessionKeys = []string{KeyToken, KeyRefreshToken, KeyUser}

// Storage is a string key/value store. Get returns errs.ErrNotFound for a
// missing key; Delete of a missing key is not an error.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Session is the persisted triple.
type Session struct {
	Token        string
	RefreshToken string
	UserJSON     string
}

// LoadSession reads all session keys. Absence of any one key is reported as
// errs.ErrNotFound.
func LoadSession(ctx context.Context, s Storage) (Session, error) {
	var out Session
	var err error
	if out.Token, err = s.Get(ctx, KeyToken); err != nil {
		return Session{}, err
	}
	if out.RefreshToken, err = s.Get(ctx, KeyRefreshToken); err != nil {
		return Session{}, err
	}
	if out.UserJSON, err = s.Get(ctx, KeyUser); err != nil {
		return Session{}, err
	}
	if out.Token == "" || out.RefreshToken == "" || out.UserJSON == "" {
		return Session{}, errs.ErrNotFound
	}
	return out, nil
}

// SaveSession writes all session keys. A failure part way is rolled back by
// deleting what was written so storage never holds a partial session.
func SaveSession(ctx context.Context, s Storage, sess Session) error {
	pairs := [][2]string{
		{KeyToken, sess.Token},
		{KeyRefreshToken, sess.RefreshToken},
		{KeyUser, sess.UserJSON},
	}
	for _, p := range pairs {
		if err := s.Set(ctx, p[0], p[1]); err != nil {
			return errors.Join(err, ClearSession(ctx, s))
		}
	}
	return nil
}

// ClearSession deletes all session keys.
func ClearSession(ctx context.Context, s Storage) error {
	return s.Delete(ctx, SessionKeys...)
}
