package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tomyedwab/sqlitebridge/sqlite"
)

// Commands understood by the host.
const (
	CommandOpen       = "open"
	CommandRun        = "run"
	CommandBulkRun    = "bulk_run"
	CommandBulkInsert = "bulk_insert"
	CommandClose      = "close"
	CommandCloseAll   = "close_all"
)

// --- JSON structures for host communication ---

// Request is the envelope of every command sent to the host. Only the fields
// relevant to Command are set.
type Request struct {
	Command string `json:"command"`
	Handle  int64  `json:"handle,omitempty"`

	// open
	Path          string `json:"path,omitempty"`
	Flags         int    `json:"flags,omitempty"`
	BusyTimeoutMs int64  `json:"busy_timeout_ms,omitempty"`

	// run
	SQL    string          `json:"sql,omitempty"`
	Params json.RawMessage `json:"params,omitempty"` // object = named, array = positional

	// bulk_run
	Statements []StatementRequest `json:"statements,omitempty"`
	Mode       string             `json:"mode,omitempty"`

	// bulk_insert
	Table      string              `json:"table,omitempty"`
	Columns    []string            `json:"columns,omitempty"`
	Rows       [][]json.RawMessage `json:"rows,omitempty"`
	OnConflict string              `json:"on_conflict,omitempty"`
}

// StatementRequest is one member of a bulk_run.
type StatementRequest struct {
	SQL    string          `json:"sql"`
	Params json.RawMessage `json:"params,omitempty"`
}

// OpenResponse answers an open command.
type OpenResponse struct {
	Handle int64        `json:"handle,omitempty"`
	Error  *ErrorRecord `json:"error,omitempty"`
}

// RunResponse answers a run command. Rows is empty, not absent, for
// statements that produce none.
type RunResponse struct {
	Rows  []sqlite.Row `json:"rows"`
	Error *ErrorRecord `json:"error,omitempty"`
}

// GeneralResponse is used for commands that return nothing but a possible
// error (bulk_run, bulk_insert, close, close_all).
type GeneralResponse struct {
	Error *ErrorRecord `json:"error,omitempty"`
}

func (r OpenResponse) Err() error    { return r.Error.Err() }
func (r RunResponse) Err() error     { return r.Error.Err() }
func (r GeneralResponse) Err() error { return r.Error.Err() }

// ErrorRecord is the wire form of a failure.
type ErrorRecord struct {
	Code    int           `json:"code"`
	Name    string        `json:"name"`
	Message string        `json:"message"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails carries the optional context of an ErrorRecord.
type ErrorDetails struct {
	Query    string `json:"query,omitempty"`
	Details  string `json:"details,omitempty"`
	Cause    string `json:"cause,omitempty"`
	Position *int   `json:"position,omitempty"`
	Rollback string `json:"rollback,omitempty"`
}

// NewErrorRecord converts err into its wire form. Errors that did not come
// from the sqlite package are reported as configuration errors, since only a
// malformed request produces them.
func NewErrorRecord(err error) *ErrorRecord {
	if err == nil {
		return nil
	}

	var berr *sqlite.BatchError
	if errors.As(err, &berr) {
		rec := NewErrorRecord(berr.Err)
		if rec.Details == nil {
			rec.Details = &ErrorDetails{}
		}
		position := berr.Position
		rec.Details.Position = &position
		if berr.Rollback != nil {
			rec.Details.Rollback = berr.Rollback.Error()
		}
		return rec
	}

	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		serr = &sqlite.Error{Code: sqlite.CodeConfiguration, Message: err.Error()}
	}
	rec := &ErrorRecord{Code: int(serr.Code), Name: serr.Code.String(), Message: serr.Message}
	if serr.Query != "" || serr.Details != "" || serr.Err != nil {
		rec.Details = &ErrorDetails{Query: serr.Query, Details: serr.Details}
		if serr.Err != nil {
			rec.Details.Cause = serr.Err.Error()
		}
	}
	return rec
}

// Err rebuilds the error described by r: a *sqlite.BatchError when a batch
// position is present, otherwise a *sqlite.Error. A nil record yields nil.
func (r *ErrorRecord) Err() error {
	if r == nil {
		return nil
	}
	e := &sqlite.Error{Code: sqlite.Code(r.Code), Message: r.Message}
	d := r.Details
	if d == nil {
		return e
	}
	e.Query, e.Details = d.Query, d.Details
	if d.Cause != "" {
		e.Err = errors.New(d.Cause)
	}
	if d.Position == nil {
		return e
	}
	berr := &sqlite.BatchError{Position: *d.Position, Err: e}
	if d.Rollback != "" {
		berr.Rollback = errors.New(d.Rollback)
	}
	return berr
}

// --- Parameter encoding ---

// DecodeParams reads a JSON parameter set. An object binds by name, an array
// by position; absent or null means no parameters.
func DecodeParams(raw json.RawMessage) (sqlite.Params, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, paramsError(err)
		}
		params := make(sqlite.Params, len(fields))
		for name, v := range fields {
			value, err := ParamValue(v)
			if err != nil {
				return nil, paramsError(fmt.Errorf("parameter %q: %w", name, err))
			}
			params[name] = value
		}
		return params, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, paramsError(err)
		}
		params := make(sqlite.Params, len(items))
		for i, v := range items {
			value, err := ParamValue(v)
			if err != nil {
				return nil, paramsError(fmt.Errorf("parameter %d: %w", i+1, err))
			}
			params[strconv.Itoa(i+1)] = value
		}
		return params, nil
	}
	return nil, paramsError(fmt.Errorf("params must be an object or an array"))
}

func paramsError(err error) error {
	return &sqlite.Error{Code: sqlite.CodeBindParameter, Message: "malformed parameters", Err: err}
}

// ParamValue decodes a single JSON value into a host value for the codec.
// Numbers stay json.Number so integers keep their precision, and the
// bytearray object becomes []byte. Other arrays and objects are returned
// as-is for the codec to reject.
func ParamValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		if b, ok := sqlite.BlobFromWire(m); ok {
			return b, nil
		}
	}
	return v, nil
}

// EncodeParams is the inverse of DecodeParams for Go callers. Values go
// through the codec first, so unsupported types fail before anything is
// sent.
func EncodeParams(p sqlite.Params) (json.RawMessage, error) {
	if len(p) == 0 {
		return nil, nil
	}
	values := make(map[string]sqlite.Value, len(p))
	for name, v := range p {
		value, err := sqlite.Encode(name, v)
		if err != nil {
			return nil, err
		}
		values[name] = value
	}
	return json.Marshal(values)
}

// EncodeRow encodes one bulk insert row.
func EncodeRow(row []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(row))
	for i, v := range row {
		value, err := sqlite.Encode(strconv.Itoa(i+1), v)
		if err != nil {
			return nil, err
		}
		if out[i], err = json.Marshal(value); err != nil {
			return nil, err
		}
	}
	return out, nil
}
