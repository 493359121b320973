package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomyedwab/sqlitebridge/sqlite"
	"github.com/tomyedwab/sqlitebridge/sqlproxy/types"
)

// HostCall hands one request payload to the host and returns its response
// payload. In-process callers pass host.Host.HandleRequest.
type HostCall func(requestPayload []byte) (responsePayload []byte, err error)

// Client issues commands to a host.
type Client struct {
	call HostCall
}

// New returns a Client sending every request through call.
func New(call HostCall) *Client {
	return &Client{call: call}
}

type response interface {
	Err() error
}

func (c *Client) roundTrip(req types.Request, resp response) error {
	if c.call == nil {
		return fmt.Errorf("sqlproxy: host call function is not set")
	}

	reqPayload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("sqlproxy: failed to marshal %s request: %w", req.Command, err)
	}

	respPayload, err := c.call(reqPayload)
	if err != nil {
		return fmt.Errorf("sqlproxy: host call for %s failed: %w", req.Command, err)
	}

	if err := json.Unmarshal(respPayload, resp); err != nil {
		return fmt.Errorf("sqlproxy: failed to unmarshal %s response: %w", req.Command, err)
	}
	return resp.Err()
}

// Open asks the host to open a connection.
func (c *Client) Open(path string, flags sqlite.OpenFlags, busyTimeout time.Duration) (*DB, error) {
	var resp types.OpenResponse
	err := c.roundTrip(types.Request{
		Command:       types.CommandOpen,
		Path:          path,
		Flags:         int(flags),
		BusyTimeoutMs: busyTimeout.Milliseconds(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Handle == 0 {
		return nil, fmt.Errorf("sqlproxy: host did not return a handle for open")
	}
	return &DB{client: c, handle: resp.Handle}, nil
}

// CloseAll asks the host to close every connection it holds, including those
// opened by other clients.
func (c *Client) CloseAll() error {
	var resp types.GeneralResponse
	return c.roundTrip(types.Request{Command: types.CommandCloseAll}, &resp)
}

// DB is a connection held by the host. Failures reported by the host are
// returned as *sqlite.Error or *sqlite.BatchError values.
type DB struct {
	client *Client
	handle int64

	mu     sync.Mutex
	closed bool
}

// Handle returns the host-assigned connection handle.
func (db *DB) Handle() int64 { return db.handle }

func (db *DB) check() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return &sqlite.Error{Code: sqlite.CodeClosedConnection, Message: "connection is closed"}
	}
	return nil
}

// Run executes one statement on the host.
func (db *DB) Run(query string, params sqlite.Params) ([]sqlite.Row, error) {
	if err := db.check(); err != nil {
		return nil, err
	}

	raw, err := types.EncodeParams(params)
	if err != nil {
		return nil, withQuery(err, query)
	}

	var resp types.RunResponse
	err = db.client.roundTrip(types.Request{
		Command: types.CommandRun,
		Handle:  db.handle,
		SQL:     query,
		Params:  raw,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Rows == nil {
		resp.Rows = []sqlite.Row{}
	}
	return resp.Rows, nil
}

// BulkRun executes stmts atomically on the host.
func (db *DB) BulkRun(mode sqlite.TxMode, stmts []sqlite.Statement) error {
	if err := db.check(); err != nil {
		return err
	}

	reqs := make([]types.StatementRequest, len(stmts))
	for i, s := range stmts {
		raw, err := types.EncodeParams(s.Params)
		if err != nil {
			return &sqlite.BatchError{Position: i + 1, Err: withQuery(err, s.SQL)}
		}
		reqs[i] = types.StatementRequest{SQL: s.SQL, Params: raw}
	}

	var resp types.GeneralResponse
	return db.client.roundTrip(types.Request{
		Command:    types.CommandBulkRun,
		Handle:     db.handle,
		Statements: reqs,
		Mode:       mode.String(),
	}, &resp)
}

// BulkInsert inserts bi's rows atomically on the host.
func (db *DB) BulkInsert(bi sqlite.BulkInsert) error {
	if err := db.check(); err != nil {
		return err
	}

	rows := make([][]json.RawMessage, len(bi.Rows))
	for i, row := range bi.Rows {
		encoded, err := types.EncodeRow(row)
		if err != nil {
			return err
		}
		rows[i] = encoded
	}

	var resp types.GeneralResponse
	return db.client.roundTrip(types.Request{
		Command:    types.CommandBulkInsert,
		Handle:     db.handle,
		Table:      bi.Table,
		Columns:    bi.Columns,
		Rows:       rows,
		OnConflict: bi.OnConflict,
	}, &resp)
}

// Close releases the connection on the host. Later calls on db fail locally
// with a ClosedConnectionError.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return &sqlite.Error{Code: sqlite.CodeClosedConnection, Message: "connection is closed"}
	}
	db.closed = true
	db.mu.Unlock()

	var resp types.GeneralResponse
	return db.client.roundTrip(types.Request{Command: types.CommandClose, Handle: db.handle}, &resp)
}

func withQuery(err error, query string) *sqlite.Error {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return &sqlite.Error{Code: sqlite.CodeUnhandledParameterType, Message: err.Error(), Query: query}
	}
	return &sqlite.Error{Code: serr.Code, Message: serr.Message, Details: serr.Details, Query: query, Err: serr.Err}
}
