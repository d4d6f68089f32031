package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/model"
)

func TestMemoryUsers(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryUsers()

	a := &Account{User: model.User{ID: "1", Email: "mail@abc.com", Username: "ann"}, PasswordHash: "h"}
	require.NoError(t, r.Create(ctx, a))
	require.ErrorIs(t, r.Create(ctx, a), errs.ErrAlreadyExists)
	require.ErrorIs(t, r.Create(ctx, &Account{User: model.User{ID: "2", Email: "MAIL@abc.com"}}), errs.ErrAlreadyExists)
	require.ErrorIs(t, r.Create(ctx, &Account{User: model.User{ID: "2", Email: "b@abc.com", Username: "ANN"}}), errs.ErrAlreadyExists)

	got, err := r.GetByEmail(ctx, "Mail@ABC.com")
	require.NoError(t, err)
	require.Equal(t, "1", got.User.ID)

	// returned copies are detached
	got.User.FirstName = "changed"
	again, _ := r.GetByID(ctx, "1")
	require.Empty(t, again.User.FirstName)

	require.NoError(t, r.Update(ctx, got))
	again, _ = r.GetByID(ctx, "1")
	require.Equal(t, "changed", again.User.FirstName)

	require.NoError(t, r.Delete(ctx, "1"))
	_, err = r.GetByID(ctx, "1")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, r.Delete(ctx, "1"), errs.ErrNotFound)
	require.ErrorIs(t, r.Update(ctx, got), errs.ErrNotFound)
}
