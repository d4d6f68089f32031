// Package repository defines account storage used by the development auth server.
package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/model"
)

// Account is a stored user with its password hash.
type Account struct {
	User         model.User
	PasswordHash string
}

// UserRepository provides CRUD access for accounts.
type UserRepository interface {
	// Create inserts a new account; email and username must be unique.
	Create(ctx context.Context, a *Account) error
	// GetByID loads an account by user ID.
	GetByID(ctx context.Context, id string) (*Account, error)
	// GetByEmail loads an account by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Account, error)
	// Update replaces a stored account.
	Update(ctx context.Context, a *Account) error
	// Delete removes an account.
	Delete(ctx context.Context, id string) error
}

// MemoryUsers is an in-process UserRepository.
type MemoryUsers struct {
	mu   sync.RWMutex
	byID map[string]*Account
}

// NewMemoryUsers returns an empty repository.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byID: map[string]*Account{}}
}

func clone(a *Account) *Account {
	c := *a
	c.User = *a.User.Clone()
	return &c
}

func (r *MemoryUsers) conflictLocked(a *Account) error {
	for id, other := range r.byID {
		if id == a.User.ID {
			continue
		}
		if strings.EqualFold(other.User.Email, a.User.Email) {
			return errs.ErrAlreadyExists
		}
		if a.User.Username != "" && strings.EqualFold(other.User.Username, a.User.Username) {
			return errs.ErrAlreadyExists
		}
	}
	return nil
}

func (r *MemoryUsers) Create(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[a.User.ID]; ok {
		return errs.ErrAlreadyExists
	}
	if err := r.conflictLocked(a); err != nil {
		return err
	}
	r.byID[a.User.ID] = clone(a)
	return nil
}

func (r *MemoryUsers) GetByID(_ context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return clone(a), nil
}

func (r *MemoryUsers) GetByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if strings.EqualFold(a.User.Email, email) {
			return clone(a), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *MemoryUsers) Update(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[a.User.ID]; !ok {
		return errs.ErrNotFound
	}
	if err := r.conflictLocked(a); err != nil {
		return err
	}
	r.byID[a.User.ID] = clone(a)
	return nil
}

func (r *MemoryUsers) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}
