package sqlite

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Code identifies the kind of an Error. The numeric values are stable across
// the command boundary and must not be reassigned.
type Code int

const (
	CodeBindParameter          Code = 1
	CodeUnhandledParameterType Code = 2
	CodeUnsupportedColumnType  Code = 3
	CodeIO                     Code = 5
	CodeConfiguration          Code = 6
	CodeStatement              Code = 7
	CodeClosedConnection       Code = 8
)

// codeReserved is kept for a "database not found" condition that only exists
// on another platform's implementation. It is never produced here.
const codeReserved Code = 4

var codeNames = map[Code]string{
	CodeBindParameter:          "BindParameterError",
	CodeUnhandledParameterType: "UnhandledParameterType",
	CodeUnsupportedColumnType:  "UnsupportedColumnType",
	codeReserved:               "Reserved",
	CodeIO:                     "IOError",
	CodeConfiguration:          "ConfigurationError",
	CodeStatement:              "StatementError",
	CodeClosedConnection:       "ClosedConnectionError",
}

// String returns the kind name, e.g. "StatementError".
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error makes a Code usable as an errors.Is target:
//
//	if errors.Is(err, sqlite.CodeIO) { ... }
func (c Code) Error() string {
	return c.String()
}

// Valid reports whether c is one of the codes this package produces.
func (c Code) Valid() bool {
	_, ok := codeNames[c]
	return ok && c != codeReserved
}

// Error is the record surfaced for every failure of this package. Values are
// never modified after they are returned.
type Error struct {
	Code    Code
	Message string
	// Query is the offending statement text, when there is one.
	Query string
	// Details carries extra context such as the parameter or column name.
	Details string
	// Err is the underlying engine or driver error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("sqlite: %s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a Code target against the record's kind.
func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.Code
}

// BatchError reports the first failing statement of a batch. Position is
// 1-based; 0 means the transaction control statement (BEGIN or COMMIT) failed.
// The batch has been rolled back by the time a BatchError is returned, unless
// Rollback is non-nil.
type BatchError struct {
	Position int
	Err      *Error
	Rollback error
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("sqlite: batch failed at position %d: %v", e.Position, e.Err)
	if e.Rollback != nil {
		msg += fmt.Sprintf(" (rollback failed: %v)", e.Rollback)
	}
	return msg
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func closedError() *Error {
	return newError(CodeClosedConnection, "connection is closed")
}

// ioResultCodes are the engine result codes that describe storage or lock
// conditions rather than a rejection of the statement itself.
var ioResultCodes = map[sqlite3.ErrNo]bool{
	sqlite3.ErrBusy:     true,
	sqlite3.ErrLocked:   true,
	sqlite3.ErrIoErr:    true,
	sqlite3.ErrCantOpen: true,
	sqlite3.ErrFull:     true,
	sqlite3.ErrPerm:     true,
	sqlite3.ErrReadonly: true,
	sqlite3.ErrNotADB:   true,
	sqlite3.ErrCorrupt:  true,
	sqlite3.ErrProtocol: true,
	sqlite3.ErrNoLFS:    true,
}

// engineError classifies an error returned by the driver into an IOError or a
// StatementError and attaches the statement text.
func engineError(message, query string, err error) *Error {
	code := CodeStatement
	var serr sqlite3.Error
	if errors.As(err, &serr) && ioResultCodes[serr.Code] {
		code = CodeIO
	}
	return &Error{Code: code, Message: message, Query: query, Err: err}
}

// asError converts any error into an *Error, keeping existing records intact.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return engineError("engine error", "", err)
}
