package sqlite

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Run compiles query, binds params, steps through every result row and
// finalizes the statement. Statements that produce no rows return an empty,
// non-nil slice. Only the first statement of query is executed.
func (c *Conn) Run(query string, params Params) ([]Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, closedError()
	}

	var rows []Row
	err := c.withDriver(func(sc *sqlite3.SQLiteConn) error {
		var err error
		rows, err = execute(sc, query, params)
		return err
	})
	if err != nil {
		c.trace(Event{Kind: EventStatementFailure, Query: query, Err: err})
		return nil, err
	}
	return rows, nil
}

// execute is the statement state machine: prepare, bind, step until done,
// finalize. The statement is finalized exactly once on every path.
func execute(sc *sqlite3.SQLiteConn, query string, params Params) ([]Row, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &Error{Code: CodeStatement, Message: "empty statement", Query: query}
	}

	stmt, err := sc.Prepare(query)
	if err != nil {
		return nil, engineError("cannot compile statement", query, err)
	}
	defer stmt.Close()

	args, err := bindArgs(params, query)
	if err != nil {
		return nil, err
	}

	qs, ok := stmt.(driver.StmtQueryContext)
	if !ok {
		return nil, &Error{Code: CodeStatement, Message: "driver statement cannot be queried", Query: query}
	}
	drows, err := qs.QueryContext(context.Background(), args)
	if err != nil {
		return nil, &Error{Code: CodeBindParameter, Message: "cannot bind parameters", Query: query, Err: err}
	}
	defer drows.Close()

	names := drows.Columns()
	declTypes := make([]string, len(names))
	if dt, ok := drows.(driver.RowsColumnTypeDatabaseTypeName); ok {
		for i := range declTypes {
			declTypes[i] = dt.ColumnTypeDatabaseTypeName(i)
		}
	}
	rawStorage(drows)

	rows := []Row{}
	dest := make([]driver.Value, len(names))
	for {
		err := drows.Next(dest)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, engineError("statement failed", query, err)
		}
		if len(names) == 0 {
			// Only text without a statement in it (e.g. a lone comment)
			// yields a "row" with no columns.
			return nil, &Error{Code: CodeStatement, Message: "empty statement", Query: query}
		}

		values := make([]Value, len(names))
		for i, raw := range dest {
			v, err := Decode(names[i], declTypes[i], raw)
			if err != nil {
				e := asError(err)
				return nil, &Error{Code: e.Code, Message: e.Message, Details: e.Details, Query: query}
			}
			values[i] = v
		}
		rows = append(rows, NewRow(names, values))
	}
}

// rawStorage stops the driver from converting values by declared type.
// Without it an INTEGER in a BOOLEAN column comes back as bool and any value
// in a DATE, DATETIME or TIMESTAMP column as time.Time, losing the stored
// value. The driver consults the slice returned by DeclTypes on every step,
// so blanking it before the first step yields the storage class as is.
func rawStorage(drows driver.Rows) {
	sr, ok := drows.(*sqlite3.SQLiteRows)
	if !ok {
		return
	}
	declTypes := sr.DeclTypes()
	for i := range declTypes {
		declTypes[i] = ""
	}
}
