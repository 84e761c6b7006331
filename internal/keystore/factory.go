package keystore

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// Mode names the backing store for status reporting.
func Mode(s Store) string {
	switch s.(type) {
	case nil:
		return "disabled"
	case *PostgresStore:
		return "postgres"
	case *InMemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}
