package store

import (
	"context"
	"fmt"
)

// migrations are applied in order on startup. Statements are idempotent so a
// restart against an existing database is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		id          VARCHAR PRIMARY KEY,
		email       TEXT NOT NULL,
		account_id  VARCHAR NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (email, account_id)
	)`,
	`CREATE TABLE IF NOT EXISTS email_logs (
		id            VARCHAR PRIMARY KEY,
		recipients    JSONB NOT NULL,
		subject       TEXT NOT NULL,
		html_content  TEXT NOT NULL,
		from_name     TEXT,
		reply_to      TEXT,
		account_id    VARCHAR NOT NULL,
		status        TEXT NOT NULL DEFAULT 'completed',
		sent_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS analytics_events (
		id             VARCHAR PRIMARY KEY,
		account_id     VARCHAR NOT NULL,
		event_name     TEXT NOT NULL,
		source_type    TEXT NOT NULL,
		source_id      TEXT,
		contact_email  TEXT NOT NULL,
		event_time     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		payload        JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_events_account_source
		ON analytics_events (account_id, source_id)`,
	`CREATE TABLE IF NOT EXISTS webhooks (
		id              VARCHAR PRIMARY KEY,
		account_id      VARCHAR NOT NULL UNIQUE,
		signing_secret  TEXT NOT NULL
	)`,
}

// RunMigrations executes the schema migrations in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration %d: %w", i, err)
		}
	}
	return nil
}
