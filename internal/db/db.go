// Package db is the per-user session event store.
//
// The daemon records lifecycle events here so `moor history` can answer
// "what happened to my sessions" after the fact. Recording is best-effort
// throughout: a missing or locked database never affects session semantics.
package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"go.mkern.dev/moor/internal/registry"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Path returns the event database location inside the registry directory.
func Path() string {
	return filepath.Join(registry.Dir(), "events.db")
}

// Open opens or creates the event database. The registry directory must
// already exist; callers go through registry.EnsureDir first.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	// WAL so a daemon writing events never blocks a `history` reader.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_session_events_timestamp ON session_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SessionEvent is one recorded lifecycle event.
type SessionEvent struct {
	ID        int64
	Session   string
	EventType string
	Details   string
	Timestamp time.Time
}

// LogSessionEvent records one event. Retries briefly on SQLITE_BUSY since
// several daemons share the database, but never blocks the caller long.
func (db *DB) LogSessionEvent(session, eventType, details string) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(
			`INSERT INTO session_events (session, event_type, details, timestamp)
			 VALUES (?, ?, ?, ?)`,
			session, eventType, details, time.Now(),
		)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("log session event after %d retries: database locked", maxRetries)
}

// RecentEvents returns the most recent events, newest first. session
// filters to one session when non-empty.
func (db *DB) RecentEvents(session string, limit int) ([]SessionEvent, error) {
	query := `SELECT id, session, event_type, details, timestamp
		 FROM session_events`
	args := []any{}
	if session != "" {
		query += ` WHERE session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Session, &e.EventType, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Details = details.String
		events = append(events, e)
	}
	return events, rows.Err()
}
