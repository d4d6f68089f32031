package limiter

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemory_BlocksAfterMaxFails(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(15*time.Minute, 5, 15*time.Minute).WithClock(c.now)
	ctx := context.Background()
	k := Key("Mail@abc.com")

	for i := 0; i < 4; i++ {
		blocked, _, err := m.Failure(ctx, k)
		require.NoError(t, err)
		require.False(t, blocked, "attempt %d", i+1)
		c.advance(time.Minute)
	}
	blocked, dur, err := m.Failure(ctx, k)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 15*time.Minute, dur)

	ok, retry, _ := m.Allow(ctx, k)
	require.False(t, ok)
	require.Equal(t, 15*time.Minute, retry)

	c.advance(15*time.Minute + time.Second)
	ok, _, _ = m.Allow(ctx, k)
	require.True(t, ok)
}

func TestMemory_OldFailuresExpire(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(10*time.Minute, 3, time.Minute).WithClock(c.now)
	ctx := context.Background()

	_, _, _ = m.Failure(ctx, "k")
	_, _, _ = m.Failure(ctx, "k")
	c.advance(11 * time.Minute)
	blocked, _, _ := m.Failure(ctx, "k")
	require.False(t, blocked)
}

func TestMemory_SuccessResets(t *testing.T) {
	m := NewMemory(0, 2, 0)
	ctx := context.Background()
	_, _, _ = m.Failure(ctx, "k")
	require.NoError(t, m.Success(ctx, "k"))
	blocked, _, _ := m.Failure(ctx, "k")
	require.False(t, blocked)

	ok, _, _ := m.Allow(ctx, "other")
	require.True(t, ok)
}

func TestFile_LockSurvivesNewInstance(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	dir := t.TempDir()
	ctx := context.Background()
	k := Key("mail@abc.com")

	for i := 0; i < 5; i++ {
		// a fresh instance per attempt, as with one CLI process per login
		f := NewFile(dir, 15*time.Minute, 5, 15*time.Minute).WithClock(c.now)
		blocked, _, err := f.Failure(ctx, k)
		require.NoError(t, err)
		require.Equal(t, i == 4, blocked, "attempt %d", i+1)
	}

	f := NewFile(dir, 15*time.Minute, 5, 15*time.Minute).WithClock(c.now)
	ok, retry, err := f.Allow(ctx, k)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 15*time.Minute, retry)

	st, err := os.Stat(f.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	c.advance(16 * time.Minute)
	ok, _, _ = f.Allow(ctx, k)
	require.True(t, ok)
}

func TestFile_SuccessRemovesState(t *testing.T) {
	f := NewFile(t.TempDir(), 0, 0, 0)
	ctx := context.Background()
	_, _, err := f.Failure(ctx, "k")
	require.NoError(t, err)
	require.FileExists(t, f.Path())

	require.NoError(t, f.Success(ctx, "k"))
	require.NoFileExists(t, f.Path())
}

func TestFile_CorruptStateStartsOver(t *testing.T) {
	f := NewFile(t.TempDir(), 0, 2, 0)
	require.NoError(t, os.WriteFile(f.Path(), []byte("{broken"), 0o600))
	ctx := context.Background()

	ok, _, err := f.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	blocked, _, err := f.Failure(ctx, "k")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestRedis_BlocksAfterMaxFails(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	l := NewRedis(rdb, "delta:", 15*time.Minute, 3, 10*time.Minute)

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, "k")
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, dur, err := l.Failure(ctx, "k")
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, dur)
	require.False(t, mr.Exists("delta:login:fails:k"))

	ok, retry, err := NewRedis(rdb, "delta:", 0, 3, 0).Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, retry, time.Duration(0))

	mr.FastForward(11 * time.Minute)
	ok, _, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis_WindowAndSuccess(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	l := NewRedis(rdb, "", time.Minute, 2, 0)

	_, _, _ = l.Failure(ctx, "k")
	mr.FastForward(2 * time.Minute)
	blocked, _, err := l.Failure(ctx, "k")
	require.NoError(t, err)
	require.False(t, blocked)

	require.NoError(t, l.Success(ctx, "k"))
	require.False(t, mr.Exists("login:fails:k"))
}

func TestRedis_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	_, _, err := NewRedis(rdb, "", 0, 0, 0).Allow(context.Background(), "k")
	require.Error(t, err)
}

func TestKey_NormalizesEmail(t *testing.T) {
	require.Equal(t, Key("mail@abc.com"), Key("  MAIL@abc.com "))
	require.NotEqual(t, Key("a@b.co"), Key("c@d.co"))
	require.Len(t, Key("a@b.co"), 64)
}

func TestNop(t *testing.T) {
	var l Limiter = Nop{}
	ok, _, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
}

func newPG(t *testing.T) (pgxmock.PgxPoolIface, *PG) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPG(mock, 5*time.Minute, 5, 10*time.Minute)
}

func TestPG_Allow(t *testing.T) {
	mock, l := newPG(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT blocked_until FROM auth_login_attempts WHERE key=\$1`).
		WithArgs("k").WillReturnError(pgx.ErrNoRows)
	ok, dur, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, dur)

	mock.ExpectQuery(`SELECT blocked_until`).WithArgs("k").
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Now().Add(10 * time.Minute)))
	ok, dur, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Positive(t, dur)

	mock.ExpectQuery(`SELECT blocked_until`).WithArgs("k").
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Now().Add(-time.Minute)))
	ok, _, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`SELECT blocked_until`).WithArgs("k").WillReturnError(errors.New("db boom"))
	ok, _, err = l.Allow(ctx, "k")
	require.Error(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Failure(t *testing.T) {
	mock, l := newPG(t)
	ctx := context.Background()

	mock.ExpectQuery(`INSERT INTO auth_login_attempts .* RETURNING fail_count`).
		WithArgs("k", 5*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))
	blocked, dur, err := l.Failure(ctx, "k")
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, dur)

	mock.ExpectQuery(`RETURNING fail_count`).
		WithArgs("k", 5*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(5))
	mock.ExpectExec(`UPDATE auth_login_attempts SET blocked_until=\$2`).
		WithArgs("k", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	blocked, dur, err = l.Failure(ctx, "k")
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, dur)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Success(t *testing.T) {
	mock, l := newPG(t)
	mock.ExpectExec(`DELETE FROM auth_login_attempts WHERE key=\$1`).
		WithArgs("k").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, l.Success(context.Background(), "k"))

	mock.ExpectExec(`DELETE FROM auth_login_attempts`).
		WithArgs("k").WillReturnError(errors.New("exec fail"))
	require.Error(t, l.Success(context.Background(), "k"))
	require.NoError(t, mock.ExpectationsWereMet())
}
