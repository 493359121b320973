package sqlite

import (
	"errors"
	"path"
	"sync"
	"testing"
	"time"
)

// recorder collects events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Trace(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

var discard = TracerFunc(func(Event) {})

// setupTestConn opens a fresh database file in a temporary directory.
func setupTestConn(t *testing.T) *Conn {
	t.Helper()
	return setupTestConnAt(t, path.Join(t.TempDir(), "test.db"), discard)
}

func setupTestConnAt(t *testing.T, location string, tracer Tracer) *Conn {
	t.Helper()
	c, err := Open(Config{Location: location, Flags: Create | ReadWrite, BusyTimeout: 2 * time.Second, Tracer: tracer})
	if err != nil {
		t.Fatalf("Open(%q) returned error: %v", location, err)
	}
	t.Cleanup(func() {
		if !c.Closed() {
			c.Close()
		}
	})
	return c
}

func mustRun(t *testing.T, c *Conn, query string, params Params) []Row {
	t.Helper()
	rows, err := c.Run(query, params)
	if err != nil {
		t.Fatalf("Run(%q) returned error: %v", query, err)
	}
	return rows
}

func expectCode(t *testing.T, err error, code Code) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s, got nil", code)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Expected *Error, got %T: %v", err, err)
	}
	if e.Code != code {
		t.Fatalf("Expected %s, got %s: %v", code, e.Code, err)
	}
	if !errors.Is(err, code) {
		t.Errorf("errors.Is(err, %s) = false", code)
	}
	return e
}

func countRows(t *testing.T, c *Conn, table string) int64 {
	t.Helper()
	rows := mustRun(t, c, "SELECT COUNT(*) AS n FROM "+table, nil)
	n, _ := rows[0].Get("n")
	return int64(n.(Integer))
}
