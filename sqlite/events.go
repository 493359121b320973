package sqlite

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Process-wide names attached to every connection event.
const (
	Subsystem             = "sqlitebridge"
	ConnectionLogCategory = "ConnectionLog"
	ErrorDomain           = "sqlitebridge.ErrorDomain"
)

// EventKind names a connection event.
type EventKind string

const (
	EventOpenAttempt       EventKind = "open_attempt"
	EventOpenSuccess       EventKind = "open_success"
	EventOpenFailure       EventKind = "open_failure"
	EventClose             EventKind = "close"
	EventStatementFailure  EventKind = "statement_failure"
	EventBatchCommit       EventKind = "batch_commit"
	EventBatchRollback     EventKind = "batch_rollback"
	EventBatchBeginFailure EventKind = "batch_begin_failure"
)

// Event is the structured record handed to a Tracer. Formatting is left to
// the tracer.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Handle   int64
	Location string
	Flags    OpenFlags
	// Query is set for statement and batch events.
	Query string
	// Position is the 1-based batch position of a failed statement.
	Position int
	// BatchID correlates the events of one batch.
	BatchID    string
	Statements int
	Err        error
}

// Code returns the error code carried by the event, or 0.
func (e Event) Code() Code {
	var rec *Error
	if errors.As(e.Err, &rec) {
		return rec.Code
	}
	return 0
}

// Tracer receives connection events. Trace is called synchronously from the
// connection's goroutine and must not call back into the connection.
type Tracer interface {
	Trace(Event)
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(Event)

func (f TracerFunc) Trace(e Event) { f(e) }

// MultiTracer fans events out to several tracers in order.
func MultiTracer(tracers ...Tracer) Tracer {
	return TracerFunc(func(e Event) {
		for _, t := range tracers {
			if t != nil {
				t.Trace(e)
			}
		}
	})
}

// SlogTracer writes events to a slog.Logger.
type SlogTracer struct {
	logger *slog.Logger
}

// NewSlogTracer returns a tracer logging to logger, or to slog.Default() when
// logger is nil.
func NewSlogTracer(logger *slog.Logger) *SlogTracer {
	return &SlogTracer{logger: logger}
}

func (t *SlogTracer) Trace(e Event) {
	logger := t.logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelDebug
	switch e.Kind {
	case EventOpenFailure, EventStatementFailure, EventBatchRollback, EventBatchBeginFailure:
		level = slog.LevelWarn
	case EventOpenSuccess, EventClose:
		level = slog.LevelInfo
	}

	attrs := []slog.Attr{
		slog.String("subsystem", Subsystem),
		slog.String("category", ConnectionLogCategory),
		slog.Int64("handle", e.Handle),
	}
	if e.Location != "" {
		attrs = append(attrs, slog.String("location", e.Location))
	}
	if e.Flags != 0 {
		attrs = append(attrs, slog.String("flags", e.Flags.String()))
	}
	if e.Query != "" {
		attrs = append(attrs, slog.String("query", e.Query))
	}
	if e.Position != 0 {
		attrs = append(attrs, slog.Int("position", e.Position))
	}
	if e.BatchID != "" {
		attrs = append(attrs, slog.String("batch", e.BatchID), slog.Int("statements", e.Statements))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.Any("error", e.Err))
		if code := e.Code(); code != 0 {
			attrs = append(attrs, slog.Int("code", int(code)))
		}
	}
	logger.LogAttrs(context.Background(), level, string(e.Kind), attrs...)
}
