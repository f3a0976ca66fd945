package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// DB wraps the shared sql connection pool
type DB struct {
	*sql.DB
}

// NewDB opens a Postgres connection pool and verifies connectivity
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

// Migrate creates the jobs table if it does not exist
func (db *DB) Migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id                   UUID PRIMARY KEY,
			owner_id             TEXT NOT NULL,
			status               TEXT NOT NULL,
			chunking_enabled     BOOLEAN NOT NULL DEFAULT FALSE,
			chunk_duration_ms    BIGINT NOT NULL DEFAULT 0,
			punctuation_provider TEXT NOT NULL DEFAULT '',
			diarization_enabled  BOOLEAN NOT NULL DEFAULT FALSE,
			max_speakers         INT NOT NULL DEFAULT 0,
			language             TEXT NOT NULL DEFAULT '',
			file_name            TEXT NOT NULL DEFAULT '',
			file_size            BIGINT NOT NULL DEFAULT 0,
			file_path            TEXT NOT NULL DEFAULT '',
			transcript_ref       TEXT NOT NULL DEFAULT '',
			segments_ref         TEXT NOT NULL DEFAULT '',
			audio_ref            TEXT NOT NULL DEFAULT '',
			tags                 TEXT[] NOT NULL DEFAULT '{}',
			keep_audio           BOOLEAN NOT NULL DEFAULT FALSE,
			deleted              BOOLEAN NOT NULL DEFAULT FALSE,
			error                TEXT NOT NULL DEFAULT '',
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL,
			started_at           TIMESTAMPTZ,
			completed_at         TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
		CREATE INDEX IF NOT EXISTS jobs_owner_idx ON jobs (owner_id, created_at DESC);
	`)
	return err
}
