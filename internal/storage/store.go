// Package storage holds the Local State Store backends: a flat key/value
// document store where every value is an opaque JSON blob.
package storage

import (
	"context"
	"errors"
	"fmt"

	"echo-client/internal/config"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Store is the Local State Store contract shared by all backends.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close()
}

// Open selects a backend from configuration.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg)
	case "redis":
		return NewRedisStore(ctx, cfg.Store.RedisURL)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
