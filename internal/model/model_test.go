package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProfileUpdate_ApplyTo(t *testing.T) {
	last := time.Now()
	u := &User{ID: "1", FirstName: "Ann", LastName: "Lee", Username: "ann", LastLoginAt: &last}

	name := "Anna"
	prefs := Preferences{Theme: "dark"}
	got := ProfileUpdate{FirstName: &name, Preferences: &prefs}.ApplyTo(u)

	require.Equal(t, "Anna", got.FirstName)
	require.Equal(t, "Lee", got.LastName)
	require.Equal(t, "dark", got.Preferences.Theme)
	require.Equal(t, "Ann", u.FirstName, "original must stay untouched")
	require.NotSame(t, u.LastLoginAt, got.LastLoginAt)

	require.Nil(t, ProfileUpdate{}.ApplyTo(nil))
	require.True(t, ProfileUpdate{}.Empty())
	require.False(t, ProfileUpdate{FirstName: &name}.Empty())
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleStudent, RoleInstructor, RoleAdmin, RoleSuperAdmin} {
		require.True(t, r.Valid(), r)
	}
	require.False(t, Role("root").Valid())
}
