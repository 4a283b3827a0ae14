package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool used by PostgresBackend.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresBackend stores documents in a single key/value table with a JSONB
// value column. Writes are atomic upserts keyed by the primary key.
type PostgresBackend struct {
	pool  pgxPool
	table string

	upsertQuery string
	selectQuery string
	deleteQuery string
}

var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend connects to url and provisions the key/value table if absent.
func NewPostgresBackend(ctx context.Context, url string, opts Options) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	if opts.PoolSize > 0 {
		cfg.MaxConns = int32(opts.PoolSize)
	}
	if opts.DialTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.DialTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create postgres pool: %v", ErrConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrConnection, err)
	}

	b, err := newPostgresBackend(ctx, pool, opts.PostgresTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func newPostgresBackend(ctx context.Context, pool pgxPool, table string) (*PostgresBackend, error) {
	if table == "" {
		table = DefaultOptions().PostgresTable
	}
	ident := pgx.Identifier{table}.Sanitize()
	b := &PostgresBackend{
		pool:  pool,
		table: table,
		upsertQuery: fmt.Sprintf(
			`INSERT INTO %s (key, value) VALUES ($1, $2::jsonb) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			ident,
		),
		selectQuery: fmt.Sprintf(`SELECT value::text FROM %s WHERE key = $1`, ident),
		deleteQuery: fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, ident),
	}

	createQuery := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL
	)`, ident)
	if _, err := pool.Exec(ctx, createQuery); err != nil {
		return nil, fmt.Errorf("%w: create table %s: %v", ErrConnection, table, err)
	}
	return b, nil
}

func (p *PostgresBackend) StoreJSON(ctx context.Context, key string, value json.RawMessage) error {
	if _, err := p.pool.Exec(ctx, p.upsertQuery, key, string(value)); err != nil {
		return fmt.Errorf("%w: upsert %q: %v", ErrConnection, key, err)
	}
	return nil
}

func (p *PostgresBackend) RetrieveJSON(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var raw string
	err := p.pool.QueryRow(ctx, p.selectQuery, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: select %q: %v", ErrConnection, key, err)
	}
	return json.RawMessage(raw), true, nil
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := p.pool.Exec(ctx, p.deleteQuery, key)
	if err != nil {
		return false, fmt.Errorf("%w: delete %q: %v", ErrConnection, key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
