package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// NewDB opens a connection to the job history database
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db}, nil
}

// EnsureSchema creates the job history tables if they do not exist. The
// worker is often the only writer, so a migration tool is overkill here.
func (db *DB) EnsureSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id            TEXT PRIMARY KEY,
			status        TEXT NOT NULL,
			error_kind    TEXT,
			error_message TEXT,
			retriable     BOOLEAN,
			glb_bytes     BIGINT,
			duration_ms   BIGINT,
			created_at    TIMESTAMPTZ NOT NULL,
			started_at    TIMESTAMPTZ,
			completed_at  TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS job_events (
			id          BIGSERIAL PRIMARY KEY,
			job_id      TEXT NOT NULL,
			at          TIMESTAMPTZ NOT NULL,
			from_status TEXT,
			to_status   TEXT NOT NULL,
			reason      TEXT
		);
	`
	_, err := db.Exec(schema)
	return err
}
