package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	testChdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/api", cfg.API.BaseURL)
	require.Equal(t, 30*time.Second, cfg.API.Timeout)
	require.Equal(t, 15*time.Minute, cfg.Session.RefreshInterval)
	require.Equal(t, 5, cfg.Session.MaxLoginFails)
	require.Equal(t, "file", cfg.Storage.Backend)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, []string{"*"}, cfg.Stub.CORSOrigins)
	require.Empty(t, cfg.OAuth)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	testChdir(t, dir)
	path := filepath.Join(dir, "delta.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://auth.example.com/api
  timeout: 5s
storage:
  backend: redis
  redis_addr: localhost:6379
oauth:
  github:
    client_id: gh-id
    redirect_port: 9000
  google:
    client_id: ""
`), 0o600))
	t.Setenv("DELTA_LOG_LEVEL", "debug")
	t.Setenv("DELTA_OAUTH_GITHUB_CLIENT_SECRET", "gh-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://auth.example.com/api", cfg.API.BaseURL)
	require.Equal(t, 5*time.Second, cfg.API.Timeout)
	require.Equal(t, "redis", cfg.Storage.Backend)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.OAuth, 1)
	require.Equal(t, OAuthConfig{ClientID: "gh-id", ClientSecret: "gh-secret", RedirectPort: 9000}, cfg.OAuth["github"])
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	testChdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DELTA_STORAGE_BACKEND=memory\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("DELTA_STORAGE_BACKEND") })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	testChdir(t, t.TempDir())

	t.Run("backend", func(t *testing.T) {
		t.Setenv("DELTA_STORAGE_BACKEND", "floppy")
		_, err := Load("")
		require.ErrorContains(t, err, "Backend")
	})
	t.Run("postgres needs dsn", func(t *testing.T) {
		t.Setenv("DELTA_STORAGE_BACKEND", "postgres")
		_, err := Load("")
		require.ErrorContains(t, err, "PostgresDSN")
	})
	t.Run("explicit file missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}

func TestValidate_UnknownProvider(t *testing.T) {
	testChdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.OAuth = map[string]OAuthConfig{"myspace": {ClientID: "x"}}
	require.ErrorContains(t, cfg.Validate(), "myspace")
}

// testChdir changes the working directory for the duration of the test
// (stand-in for testing.T.Chdir, which needs Go 1.24).
func testChdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
