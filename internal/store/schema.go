// Package store provides the SQLite-backed block and document persistence.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blocks (
	idx            INTEGER PRIMARY KEY,
	timestamp      INTEGER NOT NULL,
	subject_id     TEXT    NOT NULL,
	label          TEXT    NOT NULL DEFAULT '',
	scheduled_date TEXT    NOT NULL DEFAULT '',
	action         TEXT    NOT NULL,
	actor          TEXT    NOT NULL DEFAULT '',
	previous_hash  TEXT    NOT NULL,
	hash           TEXT    NOT NULL,
	nonce          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blocks_subject ON blocks(subject_id);

CREATE TABLE IF NOT EXISTS documents (
	id                TEXT    PRIMARY KEY,
	label             TEXT    NOT NULL DEFAULT '',
	raw_digest        TEXT    NOT NULL,
	size              INTEGER NOT NULL DEFAULT 0,
	encrypted         INTEGER NOT NULL DEFAULT 0,
	ciphertext        BLOB,
	iv                BLOB,
	release_date      TEXT    NOT NULL,
	linked_block_hash TEXT    NOT NULL DEFAULT '',
	uploader          TEXT    NOT NULL DEFAULT '',
	uploaded_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS access_log (
	document_id TEXT    NOT NULL REFERENCES documents(id),
	accessor    TEXT    NOT NULL,
	accessed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_access_log_document ON access_log(document_id);
`

// DB wraps a sql.DB with ledger and document operations.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn, path: dsn}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
