// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so no C toolchain
// is needed. Uniqueness of usernames and emails, and "one active
// verification token per account", are enforced by the schema itself; the
// service-level pre-checks are only a fast path.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool and implements both
// repository.UserRepository and repository.VerificationTokenStore.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/apicore.db"  → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// SQLite allows a single writer anyway, and an in-memory database exists
	// per connection, so the pool is pinned to one connection. This also
	// serializes every transaction in this process.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite. Tokens and team memberships
	// cascade with their account.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// newWithConn wraps an already opened pool without migrating it.
// The sqlmock tests use it to drive failure paths.
func newWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL COLLATE NOCASE UNIQUE,
			firstname     TEXT NOT NULL DEFAULT '',
			lastname      TEXT NOT NULL DEFAULT '',
			email         TEXT NOT NULL COLLATE NOCASE UNIQUE,
			password_hash TEXT NOT NULL,
			disabled      INTEGER NOT NULL DEFAULT 0,
			su            INTEGER NOT NULL DEFAULT 0,
			verified      INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS team_members (
			team_id TEXT NOT NULL,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (team_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_team_members_user_id ON team_members(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating team_members table: %w", err)
	}

	// The partial unique index is what guarantees a single active token per
	// account, even if two issuances race.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS verification_tokens (
			token_hash TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			issued_at  DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			consumed   INTEGER NOT NULL DEFAULT 0
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_verification_tokens_active
			ON verification_tokens(account_id) WHERE consumed = 0;
	`)
	if err != nil {
		return fmt.Errorf("creating verification_tokens table: %w", err)
	}

	return nil
}

// uniqueViolation reports whether err is a UNIQUE constraint failure and,
// if so, which "table.column" it names.
func uniqueViolation(err error) (string, bool) {
	var sqliteErr *moderncsqlite.Error
	isUnique := errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE

	const marker = "UNIQUE constraint failed: "
	msg := err.Error()
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", isUnique
	}
	column := msg[i+len(marker):]
	if j := strings.IndexAny(column, " ,)"); j >= 0 {
		column = column[:j]
	}
	return column, true
}
