package client

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tomyedwab/sqlitebridge/sqlite"
)

// Connector lets database/sql pool host connections:
//
//	db := sql.OpenDB(&client.Connector{Client: c, Path: "app.db", Flags: sqlite.Create})
//
// Each pooled connection is a separate host handle.
type Connector struct {
	Client      *Client
	Path        string
	Flags       sqlite.OpenFlags
	BusyTimeout time.Duration
}

// Connect opens a new host connection.
func (c *Connector) Connect(context.Context) (driver.Conn, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("sqlproxy: connector has no client")
	}
	db, err := c.Client.Open(c.Path, c.Flags, c.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return &Conn{db: db}, nil
}

// Driver returns a driver that opens names as read-write, creatable paths
// with the connector's client.
func (c *Connector) Driver() driver.Driver {
	return &Driver{Client: c.Client}
}

// Driver opens host connections by path.
type Driver struct {
	Client *Client
}

// Open opens name read-write, creating it if needed.
func (d *Driver) Open(name string) (driver.Conn, error) {
	return (&Connector{Client: d.Client, Path: name, Flags: sqlite.ReadWrite | sqlite.Create}).Connect(context.Background())
}

// --- Connection implementation ---

// Conn implements driver.Conn on top of a DB.
type Conn struct {
	db   *DB
	inTx bool
}

// Prepare returns a statement that is compiled by the host on every
// execution.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

// Close releases the host connection.
func (c *Conn) Close() error {
	return c.db.Close()
}

// Begin starts a deferred transaction.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx starts a transaction. Only the default and serializable isolation
// levels are available.
func (c *Conn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.inTx {
		return nil, fmt.Errorf("sqlproxy: transaction already active on handle %d", c.db.Handle())
	}
	switch sql.IsolationLevel(opts.Isolation) {
	case sql.LevelDefault, sql.LevelSerializable:
	default:
		return nil, fmt.Errorf("sqlproxy: unsupported isolation level %s", sql.IsolationLevel(opts.Isolation))
	}
	if _, err := c.db.Run("BEGIN DEFERRED TRANSACTION", nil); err != nil {
		return nil, err
	}
	c.inTx = true
	return &Tx{conn: c}, nil
}

// --- Statement implementation ---

// Stmt implements driver.Stmt. It holds only the query text.
type Stmt struct {
	conn  *Conn
	query string
}

func (s *Stmt) Close() error { return nil }

// NumInput returns -1; the host checks parameter counts.
func (s *Stmt) NumInput() int { return -1 }

func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

// ExecContext runs the statement and reads the change count and last rowid
// from the same host connection.
func (s *Stmt) ExecContext(_ context.Context, args []driver.NamedValue) (driver.Result, error) {
	if _, err := s.conn.db.Run(s.query, params(args)); err != nil {
		return nil, err
	}
	rows, err := s.conn.db.Run("SELECT changes() AS affected, last_insert_rowid() AS last_id", nil)
	if err != nil {
		return nil, err
	}
	affected, _ := rows[0].Get("affected")
	lastID, _ := rows[0].Get("last_id")
	return &result{
		lastInsertID: lastID.Interface().(int64),
		rowsAffected: affected.Interface().(int64),
	}, nil
}

func (s *Stmt) QueryContext(_ context.Context, args []driver.NamedValue) (driver.Rows, error) {
	data, err := s.conn.db.Run(s.query, params(args))
	if err != nil {
		return nil, err
	}
	return &rows{data: data}, nil
}

func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

func params(args []driver.NamedValue) sqlite.Params {
	p := make(sqlite.Params, len(args))
	for _, arg := range args {
		if arg.Name != "" {
			p[arg.Name] = arg.Value
		} else {
			p[strconv.Itoa(arg.Ordinal)] = arg.Value
		}
	}
	return p
}

// --- Transaction implementation ---

// Tx implements driver.Tx.
type Tx struct {
	conn *Conn
}

func (t *Tx) Commit() error {
	if !t.conn.inTx {
		return errTxDone
	}
	_, err := t.conn.db.Run("COMMIT TRANSACTION", nil)
	if err == nil {
		t.conn.inTx = false
		return nil
	}

	// A COMMIT that fails with BUSY leaves the host transaction open, and
	// database/sql never calls Rollback after a failed Commit.
	if _, rerr := t.conn.db.Run("ROLLBACK TRANSACTION", nil); rerr != nil && !isNoTransaction(rerr) {
		err = multierror.Append(err, rerr)
	}
	t.conn.inTx = false
	return err
}

func (t *Tx) Rollback() error {
	if !t.conn.inTx {
		return errTxDone
	}
	_, err := t.conn.db.Run("ROLLBACK TRANSACTION", nil)
	t.conn.inTx = false
	return err
}

var errTxDone = fmt.Errorf("sqlproxy: transaction already committed or rolled back")

// isNoTransaction reports whether err says the host had no open transaction
// left to roll back.
func isNoTransaction(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Err != nil && strings.Contains(serr.Err.Error(), "no transaction is active")
}

// --- Result implementation ---

type result struct {
	lastInsertID int64
	rowsAffected int64
}

func (r *result) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r *result) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// --- Rows implementation ---

// rows iterates over a fully fetched result. Column names come from the first
// row, so an empty result reports no columns.
type rows struct {
	data []sqlite.Row
	next int
}

func (r *rows) Columns() []string {
	if len(r.data) == 0 {
		return []string{}
	}
	return r.data[0].Columns()
}

func (r *rows) Close() error {
	r.data = nil
	r.next = 0
	return nil
}

func (r *rows) Next(dest []driver.Value) error {
	if r.next >= len(r.data) {
		return io.EOF
	}
	cols := r.data[r.next].Values()
	if len(cols) != len(dest) {
		return fmt.Errorf("sqlproxy: column count mismatch. Expected %d, got %d", len(dest), len(cols))
	}
	for i, c := range cols {
		dest[i] = c.Value.Interface()
	}
	r.next++
	return nil
}
