package sqlite

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// probeSQL needs a read lock, so opening a store another connection holds
// exclusively waits out the busy timeout here rather than on the first query.
// Writable connections also take and release the write lock, so a pending
// writer elsewhere is waited out at open too.
const (
	probeSQL        = "PRAGMA schema_version"
	probeWriteSQL   = "BEGIN IMMEDIATE TRANSACTION"
	probeReleaseSQL = "ROLLBACK TRANSACTION"
)

var lastHandle atomic.Int64

// Conn owns exactly one native engine handle. Executions on a Conn are
// serialized; callers needing parallelism open separate connections.
type Conn struct {
	mu     sync.Mutex
	cfg    Config
	handle int64
	db     *sqlx.DB
	conn   *sqlx.Conn
	closed bool
}

// Open validates cfg and establishes the native handle. Invalid
// configurations fail with ConfigurationError before any file is touched;
// inaccessible, uncreatable, locked or non-database files fail with IOError.
func Open(cfg Config) (*Conn, error) {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = NewSlogTracer(nil)
	}
	handle := lastHandle.Add(1)
	event := Event{Handle: handle, Location: cfg.Location, Flags: cfg.Flags}

	event.Kind, event.Time = EventOpenAttempt, time.Now()
	tracer.Trace(event)

	c, err := open(cfg, handle)
	if err != nil {
		event.Kind, event.Time, event.Err = EventOpenFailure, time.Now(), err
		tracer.Trace(event)
		return nil, err
	}

	event.Kind, event.Time, event.Flags = EventOpenSuccess, time.Now(), c.cfg.Flags
	tracer.Trace(event)
	return c, nil
}

func open(cfg Config, handle int64) (*Conn, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName, cfg.dsn())
	if err != nil {
		return nil, &Error{Code: CodeIO, Message: "cannot open database", Details: cfg.Location, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	conn, err := db.Connx(ctx)
	if err != nil {
		_ = db.Close()
		return nil, &Error{Code: CodeIO, Message: "cannot open database", Details: cfg.Location, Err: err}
	}

	var version int
	if err := conn.GetContext(ctx, &version, probeSQL); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, &Error{Code: CodeIO, Message: "cannot read database", Details: cfg.Location, Err: err}
	}
	if cfg.Flags.Has(ReadWrite) {
		if err := probeWrite(ctx, conn); err != nil {
			_ = conn.Close()
			_ = db.Close()
			return nil, &Error{Code: CodeIO, Message: "cannot lock database for writing", Details: cfg.Location, Err: err}
		}
	}

	return &Conn{cfg: cfg, handle: handle, db: db, conn: conn}, nil
}

func probeWrite(ctx context.Context, conn *sqlx.Conn) error {
	if _, err := conn.ExecContext(ctx, probeWriteSQL); err != nil {
		return err
	}
	_, err := conn.ExecContext(ctx, probeReleaseSQL)
	return err
}

// Handle returns a process-unique number identifying this connection in
// logs. It is not a resource reference.
func (c *Conn) Handle() int64 { return c.handle }

// Location returns the location the connection was opened with.
func (c *Conn) Location() string { return c.cfg.Location }

// Flags returns the normalized open flags.
func (c *Conn) Flags() OpenFlags { return c.cfg.Flags }

// BusyTimeout returns the configured busy timeout.
func (c *Conn) BusyTimeout() time.Duration { return c.cfg.BusyTimeout }

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the native handle. Any transaction left open by Run is
// rolled back by the engine. Calling Close again returns a
// ClosedConnectionError.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return closedError()
	}
	c.closed = true

	var result *multierror.Error
	if err := c.conn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.db.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	var err error
	if merr := result.ErrorOrNil(); merr != nil {
		err = &Error{Code: CodeIO, Message: "close failed", Details: c.cfg.Location, Err: merr}
	}
	c.trace(Event{Kind: EventClose, Err: err})
	return err
}

func (c *Conn) trace(e Event) {
	e.Time = time.Now()
	e.Handle = c.handle
	e.Location = c.cfg.Location
	c.cfg.Tracer.Trace(e)
}

// withDriver runs fn on the native connection. The caller holds c.mu and has
// checked c.closed.
func (c *Conn) withDriver(fn func(*sqlite3.SQLiteConn) error) error {
	return c.conn.Raw(func(dc any) error {
		sc, ok := dc.(*sqlite3.SQLiteConn)
		if !ok {
			return &Error{Code: CodeIO, Message: "unexpected driver connection", Details: fmt.Sprintf("%T", dc)}
		}
		return fn(sc)
	})
}
