package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/and161185/delta-auth/internal/errs"
)

// PgxPool is the subset of a Postgres pool used by the storage backend.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Close shuts down the pool and frees resources.
	Close()
}

// Postgres stores values in the auth_storage table, scoped by namespace.
type Postgres struct {
	pool      PgxPool
	namespace string
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool PgxPool, namespace string) *Postgres {
	if namespace == "" {
		namespace = "default"
	}
	return &Postgres{pool: pool, namespace: namespace}
}

// OpenPostgres creates a new connection pool for the given DSN.
func OpenPostgres(ctx context.Context, dsn, namespace string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewPostgres(pool, namespace), nil
}

// Close closes the underlying pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Get(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM auth_storage WHERE namespace=$1 AND key=$2`
	var v string
	err := p.pool.QueryRow(ctx, q, p.namespace, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.ErrNotFound
	}
	return v, err
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO auth_storage (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key)
DO UPDATE SET value=EXCLUDED.value, updated_at=now()`
	_, err := p.pool.Exec(ctx, q, p.namespace, key, value)
	return err
}

func (p *Postgres) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	const q = `DELETE FROM auth_storage WHERE namespace=$1 AND key = ANY($2)`
	_, err := p.pool.Exec(ctx, q, p.namespace, keys)
	return err
}
