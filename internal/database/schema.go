package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema creates the tables the service needs. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS photos (
		id            TEXT PRIMARY KEY,
		storage_key   TEXT NOT NULL,
		url           TEXT NOT NULL,
		storage_type  TEXT NOT NULL CHECK (storage_type IN ('Primary', 'Secondary')),
		content_type  TEXT NOT NULL,
		size_bytes    BIGINT NOT NULL DEFAULT 0,
		caption       TEXT,
		status        TEXT NOT NULL DEFAULT 'pending',
		uploaded_by   TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS photos_created_at_idx ON photos (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS photos_status_idx ON photos (status, created_at DESC)`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
