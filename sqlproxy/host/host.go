package host

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tomyedwab/sqlitebridge/sqlite"
	"github.com/tomyedwab/sqlitebridge/sqlproxy/types"
)

// Config holds configuration for a Host.
type Config struct {
	Logger *slog.Logger  // optional, defaults to slog.Default()
	Tracer sqlite.Tracer // optional, passed to every opened connection
}

// Host dispatches command payloads to the connections it has opened.
// Connections are addressed by the handle returned from the open command.
type Host struct {
	logger *slog.Logger
	tracer sqlite.Tracer
	conns  map[int64]*sqlite.Conn
	mu     sync.Mutex
}

// New creates a Host with no open connections.
func New(cfg Config) *Host {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = sqlite.NewSlogTracer(logger)
	}
	return &Host{
		logger: logger,
		tracer: tracer,
		conns:  make(map[int64]*sqlite.Conn),
	}
}

// HandleRequest processes a raw request payload and returns a raw response
// payload. Operational failures are packaged in the response; an error is
// returned only when the response itself cannot be marshaled.
func (h *Host) HandleRequest(requestPayload []byte) ([]byte, error) {
	var req types.Request
	if err := json.Unmarshal(requestPayload, &req); err != nil {
		h.logger.Warn("Malformed request", "error", err)
		return marshalErrorResponse(&sqlite.Error{
			Code:    sqlite.CodeConfiguration,
			Message: "malformed request",
			Err:     err,
		})
	}

	var responseData any
	switch req.Command {
	case types.CommandOpen:
		responseData = h.handleOpen(&req)
	case types.CommandRun:
		responseData = h.handleRun(&req)
	case types.CommandBulkRun:
		responseData = h.handleBulkRun(&req)
	case types.CommandBulkInsert:
		responseData = h.handleBulkInsert(&req)
	case types.CommandClose:
		responseData = h.handleClose(&req)
	case types.CommandCloseAll:
		responseData = types.GeneralResponse{Error: types.NewErrorRecord(h.CloseAll())}
	default:
		h.logger.Warn("Unknown command", "command", req.Command)
		return marshalErrorResponse(&sqlite.Error{
			Code:    sqlite.CodeConfiguration,
			Message: "unknown command",
			Details: req.Command,
		})
	}

	payload, err := json.Marshal(responseData)
	if err != nil {
		// Results the wire form cannot carry, such as infinite reals.
		h.logger.Warn("Cannot encode response", "command", req.Command, "error", err)
		return marshalErrorResponse(&sqlite.Error{
			Code:    sqlite.CodeUnsupportedColumnType,
			Message: "cannot encode result",
			Query:   req.SQL,
			Err:     err,
		})
	}
	return payload, nil
}

func marshalErrorResponse(err error) ([]byte, error) {
	resp := types.GeneralResponse{Error: types.NewErrorRecord(err)}
	payload, merr := json.Marshal(resp)
	if merr != nil {
		return nil, fmt.Errorf("failed to marshal error response for '%v': %w", err, merr)
	}
	return payload, nil
}

// Len returns the number of open connections.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every open connection. All connections are released even
// when some of them fail to close.
func (h *Host) CloseAll() error {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[int64]*sqlite.Conn)
	h.mu.Unlock()

	var result *multierror.Error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return &sqlite.Error{Code: sqlite.CodeIO, Message: "failed to close connections", Err: err}
	}
	return nil
}

func (h *Host) lookup(handle int64) (*sqlite.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[handle]
	if !ok {
		return nil, &sqlite.Error{
			Code:    sqlite.CodeClosedConnection,
			Message: "connection is closed",
			Details: fmt.Sprintf("handle %d", handle),
		}
	}
	return conn, nil
}

func (h *Host) handleOpen(req *types.Request) types.OpenResponse {
	conn, err := sqlite.Open(sqlite.Config{
		Location:    req.Path,
		Flags:       sqlite.OpenFlags(req.Flags),
		BusyTimeout: time.Duration(req.BusyTimeoutMs) * time.Millisecond,
		Tracer:      h.tracer,
	})
	if err != nil {
		return types.OpenResponse{Error: types.NewErrorRecord(err)}
	}

	h.mu.Lock()
	h.conns[conn.Handle()] = conn
	h.mu.Unlock()
	return types.OpenResponse{Handle: conn.Handle()}
}

func (h *Host) handleRun(req *types.Request) types.RunResponse {
	conn, err := h.lookup(req.Handle)
	if err != nil {
		return types.RunResponse{Error: types.NewErrorRecord(err)}
	}
	params, err := types.DecodeParams(req.Params)
	if err != nil {
		return types.RunResponse{Error: types.NewErrorRecord(err)}
	}
	rows, err := conn.Run(req.SQL, params)
	if err != nil {
		return types.RunResponse{Error: types.NewErrorRecord(err)}
	}
	return types.RunResponse{Rows: rows}
}

func (h *Host) handleBulkRun(req *types.Request) types.GeneralResponse {
	conn, err := h.lookup(req.Handle)
	if err != nil {
		return types.GeneralResponse{Error: types.NewErrorRecord(err)}
	}
	mode, err := sqlite.ParseTxMode(req.Mode)
	if err != nil {
		return types.GeneralResponse{Error: types.NewErrorRecord(err)}
	}

	stmts := make([]sqlite.Statement, len(req.Statements))
	for i, s := range req.Statements {
		params, err := types.DecodeParams(s.Params)
		if err != nil {
			// Nothing has run yet; report it against the member anyway.
			return types.GeneralResponse{Error: types.NewErrorRecord(&sqlite.BatchError{
				Position: i + 1,
				Err:      withQuery(err, s.SQL),
			})}
		}
		stmts[i] = sqlite.Statement{SQL: s.SQL, Params: params}
	}

	return types.GeneralResponse{Error: types.NewErrorRecord(conn.BatchTx(mode, stmts))}
}

func (h *Host) handleBulkInsert(req *types.Request) types.GeneralResponse {
	conn, err := h.lookup(req.Handle)
	if err != nil {
		return types.GeneralResponse{Error: types.NewErrorRecord(err)}
	}

	rows := make([][]any, len(req.Rows))
	for i, row := range req.Rows {
		rows[i] = make([]any, len(row))
		for j, raw := range row {
			v, err := types.ParamValue(raw)
			if err != nil {
				return types.GeneralResponse{Error: types.NewErrorRecord(&sqlite.Error{
					Code:    sqlite.CodeBindParameter,
					Message: "malformed row value",
					Details: fmt.Sprintf("row %d column %d", i+1, j+1),
					Err:     err,
				})}
			}
			rows[i][j] = v
		}
	}

	err = conn.BulkInsert(sqlite.BulkInsert{
		Table:      req.Table,
		Columns:    req.Columns,
		Rows:       rows,
		OnConflict: req.OnConflict,
	})
	return types.GeneralResponse{Error: types.NewErrorRecord(err)}
}

func (h *Host) handleClose(req *types.Request) types.GeneralResponse {
	h.mu.Lock()
	conn, ok := h.conns[req.Handle]
	if ok {
		delete(h.conns, req.Handle)
	}
	h.mu.Unlock()

	if !ok {
		return types.GeneralResponse{Error: types.NewErrorRecord(&sqlite.Error{
			Code:    sqlite.CodeClosedConnection,
			Message: "connection is closed",
			Details: fmt.Sprintf("handle %d", req.Handle),
		})}
	}
	return types.GeneralResponse{Error: types.NewErrorRecord(conn.Close())}
}

func withQuery(err error, query string) *sqlite.Error {
	e := &sqlite.Error{Code: sqlite.CodeBindParameter, Message: err.Error(), Query: query}
	if serr, ok := err.(*sqlite.Error); ok {
		e.Code, e.Message, e.Details, e.Err = serr.Code, serr.Message, serr.Details, serr.Err
	}
	return e
}
