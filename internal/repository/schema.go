package repository

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS servers (
		server_id  TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS soundcrons (
		soundcron_id          BIGSERIAL PRIMARY KEY,
		server_id             TEXT NOT NULL REFERENCES servers (server_id) ON DELETE CASCADE,
		soundcron_name        TEXT NOT NULL,
		cron                  TEXT NOT NULL,
		timezone              TEXT NOT NULL DEFAULT 'UTC',
		audio                 TEXT NOT NULL,
		mute                  BOOLEAN NOT NULL DEFAULT FALSE,
		soundcron_description TEXT NOT NULL DEFAULT '',
		generation            TEXT NOT NULL DEFAULT '',
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT soundcrons_server_name_key UNIQUE (server_id, soundcron_name)
	)`,
	`ALTER TABLE soundcrons ADD COLUMN IF NOT EXISTS generation TEXT NOT NULL DEFAULT ''`,
	`CREATE TABLE IF NOT EXISTS excluded_channels (
		soundcron_id BIGINT NOT NULL REFERENCES soundcrons (soundcron_id) ON DELETE CASCADE,
		channel_id   TEXT NOT NULL,
		PRIMARY KEY (soundcron_id, channel_id)
	)`,
}

// EnsureSchema creates the soundcron tables if they do not exist
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
