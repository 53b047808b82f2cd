package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
)

// psql builds Postgres statements with $n placeholders
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS creators (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL DEFAULT '',
		platform        TEXT NOT NULL DEFAULT '',
		source_url      TEXT NOT NULL DEFAULT '',
		license_type    TEXT NOT NULL DEFAULT '',
		post_channel_id TEXT NOT NULL DEFAULT '',
		brand_preset    TEXT NOT NULL DEFAULT '',
		max_daily       INTEGER NOT NULL DEFAULT 0,
		shorts_only     BOOLEAN NOT NULL DEFAULT TRUE,
		enabled         BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		id          TEXT PRIMARY KEY,
		creator_id  TEXT NOT NULL REFERENCES creators(id),
		title       TEXT NOT NULL DEFAULT '',
		duration_s  DOUBLE PRECISION NOT NULL DEFAULT 0,
		media_path  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS clips (
		id              UUID PRIMARY KEY,
		video_id        TEXT NOT NULL REFERENCES videos(id),
		start_s         DOUBLE PRECISION NOT NULL,
		end_s           DOUBLE PRECISION NOT NULL,
		title           TEXT NOT NULL,
		reason          TEXT NOT NULL DEFAULT '',
		snippet         TEXT NOT NULL DEFAULT '',
		composite_score DOUBLE PRECISION NOT NULL,
		artifact        TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS uploads (
		clip_id           UUID PRIMARY KEY REFERENCES clips(id),
		platform          TEXT NOT NULL,
		state             TEXT NOT NULL,
		remote_video_id   TEXT NOT NULL DEFAULT '',
		visibility        TEXT NOT NULL DEFAULT '',
		claim_status      TEXT NOT NULL DEFAULT '',
		attempts          INTEGER NOT NULL DEFAULT 0,
		claim_attempts    INTEGER NOT NULL DEFAULT 0,
		scheduled_flip_at TIMESTAMPTZ,
		error             TEXT NOT NULL DEFAULT '',
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS seen_videos (
		video_id    TEXT PRIMARY KEY,
		admitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the projection tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
