package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/and161185/delta-auth/internal/errs"
)

// exerciseStorage runs the common contract against any backend.
func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, KeyToken)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Set(ctx, KeyToken, "t1"))
	v, err := s.Get(ctx, KeyToken)
	require.NoError(t, err)
	require.Equal(t, "t1", v)

	require.NoError(t, s.Set(ctx, KeyToken, "t2"))
	v, _ = s.Get(ctx, KeyToken)
	require.Equal(t, "t2", v)

	require.NoError(t, s.Delete(ctx, KeyToken, "missing"))
	_, err = s.Get(ctx, KeyToken)
	require.ErrorIs(t, err, errs.ErrNotFound)

	sess := Session{Token: "t1", RefreshToken: "r1", UserJSON: `{"id":"1"}`}
	require.NoError(t, SaveSession(ctx, s, sess))
	got, err := LoadSession(ctx, s)
	require.NoError(t, err)
	require.Equal(t, sess, got)

	require.NoError(t, ClearSession(ctx, s))
	_, err = LoadSession(ctx, s)
	require.ErrorIs(t, err, errs.ErrNotFound)
	for _, k := range SessionKeys {
		_, err := s.Get(ctx, k)
		require.ErrorIs(t, err, errs.ErrNotFound, k)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseStorage(t, m)
	require.Equal(t, 0, m.Len())
}

func TestLoadSession_PartialIsNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, KeyToken, "t1"))
	require.NoError(t, m.Set(ctx, KeyUser, `{}`))
	_, err := LoadSession(ctx, m)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, m.Set(ctx, KeyRefreshToken, ""))
	_, err = LoadSession(ctx, m)
	require.ErrorIs(t, err, errs.ErrNotFound, "empty value counts as absent")
}

type failingSet struct {
	*Memory
	failOn string
}

func (f failingSet) Set(ctx context.Context, key, value string) error {
	if key == f.failOn {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

func TestSaveSession_RollsBackOnPartialWrite(t *testing.T) {
	m := NewMemory()
	s := failingSet{Memory: m, failOn: KeyUser}
	err := SaveSession(context.Background(), s, Session{Token: "t", RefreshToken: "r", UserJSON: "{}"})
	require.Error(t, err)
	require.Equal(t, 0, m.Len())
}

func TestFile_Plain(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(dir, "")
	exerciseStorage(t, f)

	require.NoError(t, f.Set(context.Background(), KeyToken, "plain"))
	b, err := os.ReadFile(filepath.Join(dir, "session.json"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"plain"`)

	st, err := os.Stat(f.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestFile_RemovedWhenEmpty(t *testing.T) {
	f := NewFile(t.TempDir(), "")
	ctx := context.Background()
	require.NoError(t, f.Set(ctx, KeyToken, "t"))
	require.NoError(t, f.Delete(ctx, KeyToken))
	_, err := os.Stat(f.Path())
	require.True(t, os.IsNotExist(err))
}

func TestFile_Sealed(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	f := NewFile(dir, "correct horse")
	require.NoError(t, f.Set(ctx, KeyToken, "secret-token"))

	raw, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret-token")
	var doc fileDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.True(t, doc.Sealed)
	require.NotEmpty(t, doc.Salt)

	// a fresh instance with the same passphrase reads it back
	v, err := NewFile(dir, "correct horse").Get(ctx, KeyToken)
	require.NoError(t, err)
	require.Equal(t, "secret-token", v)

	_, err = NewFile(dir, "wrong").Get(ctx, KeyToken)
	require.ErrorIs(t, err, ErrWrongPassphrase)

	_, err = NewFile(dir, "").Get(ctx, KeyToken)
	require.ErrorIs(t, err, ErrWrongPassphrase)
	require.ErrorIs(t, NewFile(dir, "").Set(ctx, KeyUser, "{}"), ErrWrongPassphrase)
}

func TestFile_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("{not json"), 0o600))
	ctx := context.Background()
	f := NewFile(dir, "")
	_, err := f.Get(ctx, KeyToken)
	require.ErrorIs(t, err, ErrCorruptFile)
	require.True(t, strings.Contains(err.Error(), "decode"))

	require.NoError(t, ClearSession(ctx, f))
	_, err = os.Stat(f.Path())
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFile_CorruptDocumentIsReplacedOnSave(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("{not json"), 0o600))
	ctx := context.Background()
	f := NewFile(dir, "pass")

	sess := Session{Token: "t1", RefreshToken: "r1", UserJSON: `{"id":"1"}`}
	require.NoError(t, SaveSession(ctx, f, sess))
	got, err := LoadSession(ctx, NewFile(dir, "pass"))
	require.NoError(t, err)
	require.Equal(t, sess, got)
}

func TestDefaultDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.Equal(t, filepath.Join(dir, "delta-auth"), DefaultDir())
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis(t *testing.T) {
	mr, rdb := newTestRedis(t)
	exerciseStorage(t, NewRedis(rdb, "dev1", 0))

	r := NewRedis(rdb, "dev1", time.Hour)
	require.NoError(t, r.Set(context.Background(), KeyToken, "t"))
	require.True(t, mr.Exists("dev1:"+KeyToken))
	require.Equal(t, time.Hour, mr.TTL("dev1:"+KeyToken))

	require.NoError(t, r.Delete(context.Background()))
}

func TestRedis_DefaultPrefix(t *testing.T) {
	mr, rdb := newTestRedis(t)
	require.NoError(t, NewRedis(rdb, "", 0).Set(context.Background(), KeyUser, "{}"))
	require.True(t, mr.Exists("delta-auth:"+KeyUser))
}

func TestPostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	p := NewPostgres(mock, "")
	ctx := context.Background()

	mock.ExpectQuery(`SELECT value FROM auth_storage WHERE namespace=\$1 AND key=\$2`).
		WithArgs("default", KeyToken).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("t1"))
	v, err := p.Get(ctx, KeyToken)
	require.NoError(t, err)
	require.Equal(t, "t1", v)

	mock.ExpectQuery(`SELECT value FROM auth_storage`).
		WithArgs("default", KeyUser).
		WillReturnError(pgx.ErrNoRows)
	_, err = p.Get(ctx, KeyUser)
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectExec(`INSERT INTO auth_storage \(namespace, key, value, updated_at\)`).
		WithArgs("default", KeyToken, "t2").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, p.Set(ctx, KeyToken, "t2"))

	mock.ExpectExec(`DELETE FROM auth_storage WHERE namespace=\$1 AND key = ANY\(\$2\)`).
		WithArgs("default", SessionKeys).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	require.NoError(t, ClearSession(ctx, p))

	require.NoError(t, p.Delete(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ErrorPropagates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	p := NewPostgres(mock, "ns")

	mock.ExpectExec(`INSERT INTO auth_storage`).
		WithArgs("ns", KeyToken, "x").
		WillReturnError(errors.New("conn reset"))
	require.Error(t, p.Set(context.Background(), KeyToken, "x"))
	require.NoError(t, mock.ExpectationsWereMet())
}
