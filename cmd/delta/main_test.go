package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/and161185/delta-auth/internal/errs"
	"github.com/and161185/delta-auth/internal/limiter"
	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/repository"
	"github.com/and161185/delta-auth/internal/session"
	"github.com/and161185/delta-auth/internal/stubapi"
)

type cliEnv struct {
	svc *stubapi.Service
	url string
}

// newCLIEnv starts a stub server and points file storage at a temp dir.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	testChdir(t, dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("DELTA_STORAGE_BACKEND", "file")
	t.Setenv("DELTA_STORAGE_DIR", dir)
	t.Setenv("DELTA_LOG_LEVEL", "error")

	svc := stubapi.NewService(repository.NewMemoryUsers(), stubapi.Config{SignKey: []byte("k")},
		limiter.NewMemory(0, 0, 0), zap.NewNop())
	srv := httptest.NewServer(stubapi.NewHandler(svc, zap.NewNop(), nil))
	t.Cleanup(srv.Close)
	return &cliEnv{svc: svc, url: srv.URL + "/api"}
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(streams{in: strings.NewReader(stdin), out: &out, err: &errOut})
	cmd.SetArgs(append([]string{"--api-url", e.url}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (e *cliEnv) register(t *testing.T) {
	t.Helper()
	_, stderr, err := e.run(t, "",
		"register",
		"--first-name", "Ada", "--last-name", "Lovelace", "--username", "ada_l",
		"--agree-terms",
		"--birth-day", "10", "--birth-month", "December", "--birth-year", "1990",
		"--phone", "+44 20 7946 0958", "--email", "mail@abc.com",
		"--code", "123456", "--password", "Abc123!@")
	require.NoError(t, err, stderr)
}

func TestCLI_RegisterWhoamiLogout(t *testing.T) {
	e := newCLIEnv(t)
	e.register(t)

	out, _, err := e.run(t, "", "whoami", "-o", "json")
	require.NoError(t, err)
	var v struct {
		User      model.User `json:"user"`
		Persisted bool       `json:"persisted"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	require.Equal(t, "mail@abc.com", v.User.Email)
	require.True(t, v.Persisted)
	require.NotContains(t, out, "token")

	out, _, err = e.run(t, "", "whoami", "-o", "yaml")
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &m))
	require.Contains(t, m, "user")

	out, _, err = e.run(t, "", "logout")
	require.NoError(t, err)
	require.Contains(t, out, "Signed out")

	_, _, err = e.run(t, "", "whoami")
	require.ErrorIs(t, err, errNotSignedIn)
}

func TestCLI_LoginPrompted(t *testing.T) {
	e := newCLIEnv(t)
	e.register(t)
	_, _, err := e.run(t, "", "logout")
	require.NoError(t, err)

	// first answer is rejected locally, then re-asked
	out, stderr, err := e.run(t, "not-an-email\nx\nmail@abc.com\nAbc123!@\n", "login")
	require.NoError(t, err, stderr)
	require.Contains(t, out, "Signed in as Ada Lovelace <mail@abc.com>")
	require.Contains(t, stderr, "valid email")
}

func TestCLI_LoginWrongPassword(t *testing.T) {
	e := newCLIEnv(t)
	e.register(t)
	_, _, err := e.run(t, "", "login", "--email", "mail@abc.com", "--password", "wrong")
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)

	// the earlier session survives a failed login
	_, _, err = e.run(t, "", "whoami")
	require.NoError(t, err)
}

func TestCLI_LockoutSpansInvocations(t *testing.T) {
	e := newCLIEnv(t)
	t.Setenv("DELTA_SESSION_MAX_LOGIN_FAILS", "3")
	e.register(t)
	_, _, err := e.run(t, "", "logout")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := e.run(t, "", "login", "--email", "mail@abc.com", "--password", "wrong")
		require.ErrorIs(t, err, errs.ErrInvalidCredentials, "attempt %d", i+1)
	}

	// the right password is refused without reaching the server
	_, _, err = e.run(t, "", "login", "--email", "MAIL@abc.com", "--password", "Abc123!@")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.Contains(t, userMessage(err), "Too many failed attempts")
	require.FileExists(t, filepath.Join(os.Getenv("DELTA_STORAGE_DIR"), "login_attempts.json"))
}

func TestCLI_Recover(t *testing.T) {
	e := newCLIEnv(t)
	e.register(t)

	// the code is only known after forgot-password, so feed it through a
	// reader that asks the stub for it when the prompt is reached
	in := &lazyReader{next: func() string {
		code, _ := e.svc.PendingResetCode("mail@abc.com")
		return code + "\n"
	}}
	var out, errOut bytes.Buffer
	cmd := newRootCmd(streams{in: in, out: &out, err: &errOut})
	cmd.SetArgs([]string{"--api-url", e.url, "recover", "--email", "mail@abc.com", "--password", "Fresh1!x"})
	require.NoError(t, cmd.ExecuteContext(context.Background()), errOut.String())
	require.Contains(t, out.String(), "Password updated")

	_, _, err := e.run(t, "", "login", "--email", "mail@abc.com", "--password", "Fresh1!x")
	require.NoError(t, err)
}

// lazyReader produces its content on first read.
type lazyReader struct {
	next func() string
	buf  *strings.Reader
}

func (r *lazyReader) Read(p []byte) (int, error) {
	if r.buf == nil {
		r.buf = strings.NewReader(r.next())
	}
	return r.buf.Read(p)
}

func TestCLI_ProfileAndPassword(t *testing.T) {
	e := newCLIEnv(t)
	e.register(t)

	out, _, err := e.run(t, "", "profile", "--first-name", "Augusta", "--theme", "dark")
	require.NoError(t, err)
	require.Contains(t, out, "Augusta Lovelace")

	_, _, err = e.run(t, "", "profile")
	require.ErrorContains(t, err, "nothing to update")
	_, _, err = e.run(t, "", "profile", "--theme", "neon")
	require.ErrorContains(t, err, "neon")

	_, _, err = e.run(t, "", "change-password", "--current", "Abc123!@", "--new", "short")
	require.Error(t, err)
	_, _, err = e.run(t, "", "change-password", "--current", "Abc123!@", "--new", "Xyz789!@")
	require.NoError(t, err)
}

func TestCLI_VerifyAndDelete(t *testing.T) {
	e := newCLIEnv(t)
	e.register(t)

	out, _, err := e.run(t, "", "whoami", "-o", "json")
	require.NoError(t, err)
	var v struct {
		User model.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &v))

	in := &lazyReader{next: func() string {
		code, _ := e.svc.PendingVerificationCode(v.User.ID)
		return code + "\n"
	}}
	var so, se bytes.Buffer
	cmd := newRootCmd(streams{in: in, out: &so, err: &se})
	cmd.SetArgs([]string{"--api-url", e.url, "verify-email"})
	require.NoError(t, cmd.ExecuteContext(context.Background()), se.String())
	require.Contains(t, so.String(), "Email verified")

	out, _, err = e.run(t, "n\n", "delete-account")
	require.NoError(t, err)
	require.Contains(t, out, "Aborted")

	out, _, err = e.run(t, "", "delete-account", "--yes")
	require.NoError(t, err)
	require.Contains(t, out, "Account deleted")
	_, _, err = e.run(t, "", "whoami")
	require.ErrorIs(t, err, errNotSignedIn)
}

func TestCLI_Refresh(t *testing.T) {
	e := newCLIEnv(t)
	e.register(t)
	out, _, err := e.run(t, "", "refresh")
	require.NoError(t, err)
	require.Contains(t, out, "Session refreshed")
}

func TestCLI_SocialNotConfigured(t *testing.T) {
	e := newCLIEnv(t)
	_, _, err := e.run(t, "", "social", "github")
	require.ErrorContains(t, err, "no social providers configured")
}

func TestCLI_StrengthAndVersion(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(streams{in: strings.NewReader(""), out: &out, err: &bytes.Buffer{}})
	cmd.SetArgs([]string{"strength", "Abc123!@"})
	require.NoError(t, cmd.Execute())
	require.True(t, strings.HasPrefix(out.String(), "good") || strings.HasPrefix(out.String(), "strong"), out.String())

	out.Reset()
	cmd = newRootCmd(streams{in: strings.NewReader(""), out: &out, err: &bytes.Buffer{}})
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "delta dev (unknown)\n", out.String())
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, "bad (email)", userMessage(errs.Validation("email", "bad")))
	require.Equal(t, "plain", userMessage(errors.New("plain")))
}

func TestPrintSession_Text(t *testing.T) {
	var buf bytes.Buffer
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := session.Snapshot{
		User:         &model.User{ID: "u1", Email: "a@b.co", FirstName: "Ada", Role: model.RoleStudent},
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    exp,
	}
	require.NoError(t, printSession(&buf, "text", snap))
	require.Contains(t, buf.String(), "Ada <a@b.co>")
	require.Contains(t, buf.String(), "role:     student")
	require.Error(t, printSession(&buf, "xml", snap))
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
