package storage

import (
	"context"
	"strings"
)

// Open selects a backend from the DSN scheme: "memory" for in-process,
// "redis://" for Redis, "postgres://" for PostgreSQL, anything else is
// treated as a SQLite file path (with an optional "file:" prefix).
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return NewRedis(ctx, dsn)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	default:
		return NewSQLite(ctx, strings.TrimPrefix(dsn, "file:"))
	}
}
