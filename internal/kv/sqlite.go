package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rsclarke/echohook/internal/db"
)

// SQLite is a Store backed by a single SQLite table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and returns a Store over it.
func OpenSQLite(path string) (*SQLite, error) {
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: d}, nil
}

// DB exposes the underlying handle so other subsystems can share the file.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, upsertSQL, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	var (
		rows *sql.Rows
		err  error
	)
	// Default BINARY collation compares bytewise, so a range scan matches the prefix exactly.
	if end := PrefixEnd(prefix); end != "" {
		rows, err = s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key >= ? AND key < ?", prefix, end)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key >= ?", prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

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

func (s *SQLite) Apply(ctx context.Context, ops ...Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		if !op.Guarded() {
			continue
		}
		var cur []byte
		err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", op.Key).Scan(&cur)
		exists := true
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("read %q: %w", op.Key, err)
		}
		if !op.Check(cur, exists) {
			return ErrConflict
		}
	}

	now := time.Now().Unix()
	for _, op := range ops {
		if op.Delete {
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", op.Key); err != nil {
				return fmt.Errorf("delete %q: %w", op.Key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertSQL, op.Key, op.Value, now); err != nil {
			return fmt.Errorf("put %q: %w", op.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

const upsertSQL = `
	INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`
