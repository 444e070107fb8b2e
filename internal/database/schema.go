package database

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                       TEXT PRIMARY KEY,
	display_name             TEXT NOT NULL DEFAULT '',
	email                    TEXT UNIQUE,
	password_hash            TEXT NOT NULL DEFAULT '',
	legacy_balance           JSONB,
	assets                   JSONB NOT NULL DEFAULT '{}',
	transactions             JSONB NOT NULL DEFAULT '[]',
	has_unread_notifications BOOLEAN NOT NULL DEFAULT FALSE,
	version                  INTEGER NOT NULL DEFAULT 1,
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
);
`

// EnsureSchema creates the account and document tables when missing
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error creating schema: %w", err)
	}
	return nil
}
