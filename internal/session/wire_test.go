package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/delta-auth/internal/api"
	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/session"
	"github.com/and161185/delta-auth/internal/storage"
)

// A canned server answering login with fixed tokens, exercised through the real HTTP client.
func TestLoginOverHTTP_PersistsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			http.NotFound(w, r)
			return
		}
		var creds model.LoginCredentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email != "mail@abc.com" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"id":"1","email":"mail@abc.com","role":"student"},"token":"t1","refreshToken":"r1","expiresIn":900}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	mem := storage.NewMemory()
	s := session.New(ctx, api.New(srv.URL+"/api"), session.WithStorage(mem))
	defer s.Close()

	err := s.Login(ctx, model.LoginCredentials{Email: "mail@abc.com", Password: "Abc123!@", RememberMe: true})
	require.NoError(t, err)
	require.Equal(t, "mail@abc.com", s.Snapshot().User.Email)

	tok, err := mem.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	require.Equal(t, "t1", tok)
	require.Equal(t, "delta-auth-token", storage.KeyToken)
}
