// Package db provides SQLite persistence for the observation event log.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the event log database at path and
// applies the schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*DB, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// modernc sqlite serializes at the driver level; a single connection
	// avoids table-lock errors from concurrent writers.
	handle.SetMaxOpenConns(1)

	if _, err := handle.Exec(schema); err != nil {
		handle.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{handle}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	timestamp    TEXT NOT NULL,
	type         TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	payload_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_type, entity_id);
`
