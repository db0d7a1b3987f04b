package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS echohook_kv (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres is a Store backed by a PostgreSQL table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects using dsn, verifies the connection and ensures the
// table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := p.pool.QueryRow(ctx, "SELECT value FROM echohook_kv WHERE key = $1", key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	if _, err := p.pool.Exec(ctx, pgUpsertSQL, key, value); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM echohook_kv WHERE key = $1", key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := p.pool.Query(ctx, "SELECT key, value FROM echohook_kv WHERE starts_with(key, $1)", prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan %q: %w", prefix, err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %q: %w", prefix, err)
	}
	return out, nil
}

func (p *Postgres) Apply(ctx context.Context, ops ...Op) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, op := range ops {
		if !op.Guarded() {
			continue
		}
		var cur []byte
		err := tx.QueryRow(ctx, "SELECT value FROM echohook_kv WHERE key = $1 FOR UPDATE", op.Key).Scan(&cur)
		exists := true
		if errors.Is(err, pgx.ErrNoRows) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("read %q: %w", op.Key, err)
		}
		if !op.Check(cur, exists) {
			return ErrConflict
		}
	}

	for _, op := range ops {
		if op.Delete {
			if _, err := tx.Exec(ctx, "DELETE FROM echohook_kv WHERE key = $1", op.Key); err != nil {
				return fmt.Errorf("delete %q: %w", op.Key, err)
			}
			continue
		}
		if op.requiresAbsent() {
			// A concurrent insert must lose rather than overwrite.
			tag, err := tx.Exec(ctx, pgInsertSQL, op.Key, op.Value)
			if err != nil {
				return fmt.Errorf("insert %q: %w", op.Key, err)
			}
			if tag.RowsAffected() == 0 {
				return ErrConflict
			}
			continue
		}
		if _, err := tx.Exec(ctx, pgUpsertSQL, op.Key, op.Value); err != nil {
			return fmt.Errorf("put %q: %w", op.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const (
	pgUpsertSQL = `
	INSERT INTO echohook_kv (key, value, updated_at) VALUES ($1, $2, now())
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	pgInsertSQL = `
	INSERT INTO echohook_kv (key, value, updated_at) VALUES ($1, $2, now())
	ON CONFLICT (key) DO NOTHING`
)
