// Package connlog persists connection events to a SQLite table so failures
// can be inspected after the process that hit them has exited.
package connlog

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tomyedwab/sqlitebridge/sqlite"
)

// Entry represents a connection event row in the database
type Entry struct {
	ID         string `db:"id" json:"id"`
	Kind       string `db:"kind" json:"kind"`
	Timestamp  int64  `db:"timestamp" json:"timestamp"` // Unix milliseconds
	Handle     int64  `db:"handle" json:"handle"`
	Location   string `db:"location" json:"location"`
	Flags      string `db:"flags" json:"flags,omitempty"`
	Query      string `db:"query" json:"query,omitempty"`
	Position   *int   `db:"position" json:"position,omitempty"` // Nullable outside batches
	BatchID    string `db:"batch_id" json:"batchId,omitempty"`
	Statements int    `db:"statements" json:"statements,omitempty"`
	ErrorCode  *int   `db:"error_code" json:"errorCode,omitempty"` // Nullable for successful events
	Message    string `db:"message" json:"message,omitempty"`
}

// Time returns the event time.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Store records connection events. It implements sqlite.Tracer.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a store on db, creating its table if needed. Insert
// failures are reported to logger, or slog.Default() when logger is nil.
func NewStore(db *sqlx.DB, logger *slog.Logger) (*Store, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// DBInit initializes the connection events table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS connection_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		handle INTEGER NOT NULL,
		location TEXT NOT NULL,
		flags TEXT NOT NULL DEFAULT '',
		query TEXT NOT NULL DEFAULT '',
		position INTEGER,
		batch_id TEXT NOT NULL DEFAULT '',
		statements INTEGER NOT NULL DEFAULT 0,
		error_code INTEGER,
		message TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_connection_events_timestamp ON connection_events(timestamp)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_connection_events_handle ON connection_events(handle)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_connection_events_kind ON connection_events(kind)`)
	return err
}

// Trace stores e. It never fails the operation that produced the event.
func (s *Store) Trace(e sqlite.Event) {
	if err := s.Insert(e); err != nil {
		s.logger.Warn("Failed to record connection event",
			"subsystem", sqlite.Subsystem,
			"kind", string(e.Kind),
			"handle", e.Handle,
			"error", err)
	}
}

// Insert stores e and returns any database error.
func (s *Store) Insert(e sqlite.Event) error {
	entry := newEntry(e)
	_, err := s.db.NamedExec(`
		INSERT INTO connection_events (
			id, kind, timestamp, handle, location, flags, query,
			position, batch_id, statements, error_code, message
		) VALUES (
			:id, :kind, :timestamp, :handle, :location, :flags, :query,
			:position, :batch_id, :statements, :error_code, :message
		)`, entry)
	return err
}

func newEntry(e sqlite.Event) *Entry {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	entry := &Entry{
		ID:         uuid.New().String(),
		Kind:       string(e.Kind),
		Timestamp:  ts.UTC().UnixMilli(),
		Handle:     e.Handle,
		Location:   e.Location,
		Query:      e.Query,
		BatchID:    e.BatchID,
		Statements: e.Statements,
	}
	if e.Flags != 0 {
		entry.Flags = e.Flags.String()
	}

	var berr *sqlite.BatchError
	if errors.As(e.Err, &berr) {
		position := berr.Position
		entry.Position = &position
	}
	if e.Err != nil {
		code := int(e.Code())
		entry.ErrorCode = &code
		entry.Message = e.Err.Error()
	}
	return entry
}

// ByHandle retrieves the events of one connection, most recent first
func (s *Store) ByHandle(handle int64, limit int) ([]Entry, error) {
	events := []Entry{}
	err := s.db.Select(&events,
		"SELECT * FROM connection_events WHERE handle = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
		handle, limit)
	return events, err
}

// ByKind retrieves events of a specific kind, most recent first
func (s *Store) ByKind(kind sqlite.EventKind, limit int) ([]Entry, error) {
	events := []Entry{}
	err := s.db.Select(&events,
		"SELECT * FROM connection_events WHERE kind = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
		string(kind), limit)
	return events, err
}

// Failures retrieves events that carry an error, most recent first
func (s *Store) Failures(limit int) ([]Entry, error) {
	events := []Entry{}
	err := s.db.Select(&events,
		"SELECT * FROM connection_events WHERE error_code IS NOT NULL ORDER BY timestamp DESC, rowid DESC LIMIT $1",
		limit)
	return events, err
}

// Recent retrieves the most recent events
func (s *Store) Recent(limit int) ([]Entry, error) {
	events := []Entry{}
	err := s.db.Select(&events,
		"SELECT * FROM connection_events ORDER BY timestamp DESC, rowid DESC LIMIT $1",
		limit)
	return events, err
}

// DeleteOlderThan deletes events older than the specified duration
func (s *Store) DeleteOlderThan(olderThan time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-olderThan).UnixMilli()
	result, err := s.db.Exec("DELETE FROM connection_events WHERE timestamp < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
