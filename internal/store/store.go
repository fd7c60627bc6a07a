package store

import (
	"context"
	"fmt"

	"github.com/personasync/apiserver/config"
	"github.com/personasync/apiserver/internal/db"
)

// Entry is a single key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value string
}

// KV is a string-keyed persistent store with conditional writes.
type KV interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetIfAbsent returns ErrConflict when the key already exists.
	SetIfAbsent(ctx context.Context, key, value string) error
	// CompareAndSwap replaces old with new. It returns ErrConflict when the
	// stored value is not old or the key is absent.
	CompareAndSwap(ctx context.Context, key, old, new string) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
	// Scan returns every entry whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// Open constructs the KV backend selected by cfg.KVBackend.
func Open(ctx context.Context, cfg config.Config) (KV, error) {
	switch cfg.KVBackend {
	case "", "memory":
		return NewMemoryKV(), nil
	case "postgres":
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return NewPostgresKV(conn), nil
	case "redis":
		return NewRedisKV(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.KVBackend)
	}
}
