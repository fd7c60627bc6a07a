package store

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresKV persists entries in the kv_entries table.
type PostgresKV struct {
	db *sql.DB
}

func NewPostgresKV(db *sql.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

var _ KV = (*PostgresKV)(nil)

func (r *PostgresKV) Get(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM kv_entries WHERE key = $1`
	var value string
	if err := r.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (r *PostgresKV) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, query, key, value)
	return err
}

func (r *PostgresKV) SetIfAbsent(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return err
	}
	return conflictIfUnaffected(result)
}

func (r *PostgresKV) CompareAndSwap(ctx context.Context, key, old, new string) error {
	const query = `
		UPDATE kv_entries
		SET value = $2,
			updated_at = now()
		WHERE key = $1 AND value = $3`
	result, err := r.db.ExecContext(ctx, query, key, new, old)
	if err != nil {
		return err
	}
	return conflictIfUnaffected(result)
}

func (r *PostgresKV) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM kv_entries WHERE key = $1`
	_, err := r.db.ExecContext(ctx, query, key)
	return err
}

func (r *PostgresKV) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	// left() instead of LIKE: usernames and prefixes may contain '_' and '%'.
	const query = `
		SELECT key, value
		FROM kv_entries
		WHERE left(key, char_length($1)) = $1
		ORDER BY key`
	rows, err := r.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Key, &entry.Value); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *PostgresKV) Close() error {
	return r.db.Close()
}

func conflictIfUnaffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}
