package sqlite

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Statement is one (SQL, parameter set) pair of a batch.
type Statement struct {
	SQL    string
	Params Params
}

// TxMode selects the locking behavior of the batch transaction.
type TxMode int

const (
	// Deferred takes locks on first use.
	Deferred TxMode = iota
	// Immediate takes the write lock when the batch starts.
	Immediate
	// Exclusive also keeps readers out until the batch finishes.
	Exclusive
)

func (m TxMode) String() string {
	switch m {
	case Deferred:
		return "deferred"
	case Immediate:
		return "immediate"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("TxMode(%d)", int(m))
	}
}

// ParseTxMode parses the names printed by TxMode.String. The empty string is
// Deferred.
func ParseTxMode(s string) (TxMode, error) {
	switch s {
	case "", "deferred":
		return Deferred, nil
	case "immediate":
		return Immediate, nil
	case "exclusive":
		return Exclusive, nil
	}
	return 0, configError("unknown transaction mode", s)
}

func (m TxMode) beginSQL() (string, error) {
	switch m {
	case Deferred:
		return "BEGIN DEFERRED TRANSACTION", nil
	case Immediate:
		return "BEGIN IMMEDIATE TRANSACTION", nil
	case Exclusive:
		return "BEGIN EXCLUSIVE TRANSACTION", nil
	}
	return "", configError("unknown transaction mode", m.String())
}

const (
	commitSQL   = "COMMIT TRANSACTION"
	rollbackSQL = "ROLLBACK TRANSACTION"
)

// Batch runs stmts in order inside one deferred transaction.
func (c *Conn) Batch(stmts []Statement) error {
	return c.BatchTx(Deferred, stmts)
}

// BatchTx runs stmts in order inside one transaction started in mode. Rows
// produced by the statements are discarded. On the first failure the
// transaction is rolled back, later statements are not attempted and a
// *BatchError naming the 1-based position is returned. Otherwise the
// transaction is committed once, after the last statement.
func (c *Conn) BatchTx(mode TxMode, stmts []Statement) error {
	begin, err := mode.beginSQL()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return closedError()
	}

	b := &batch{conn: c, id: uuid.NewString(), begin: begin, stmts: stmts}
	return c.withDriver(b.run)
}

type batch struct {
	conn  *Conn
	id    string
	begin string
	stmts []Statement
}

func (b *batch) run(sc *sqlite3.SQLiteConn) error {
	if _, err := execute(sc, b.begin, nil); err != nil {
		// Nothing was started, so there is nothing to roll back. A
		// transaction opened earlier through Run is left alone.
		berr := &BatchError{Position: 0, Err: asError(err)}
		b.trace(EventBatchBeginFailure, b.begin, 0, berr)
		return berr
	}

	for i, st := range b.stmts {
		if _, err := execute(sc, st.SQL, st.Params); err != nil {
			return b.abort(sc, i+1, st.SQL, asError(err))
		}
	}

	if _, err := execute(sc, commitSQL, nil); err != nil {
		return b.abort(sc, 0, commitSQL, asError(err))
	}
	b.trace(EventBatchCommit, "", 0, nil)
	return nil
}

func (b *batch) abort(sc *sqlite3.SQLiteConn, position int, query string, cause *Error) error {
	berr := &BatchError{Position: position, Err: cause}
	// Some failures (e.g. a full disk) make the engine roll back on its own.
	if !sc.AutoCommit() {
		if _, err := execute(sc, rollbackSQL, nil); err != nil {
			berr.Rollback = err
		}
	}
	b.trace(EventBatchRollback, query, position, berr)
	return berr
}

func (b *batch) trace(kind EventKind, query string, position int, err error) {
	b.conn.trace(Event{
		Kind:       kind,
		Query:      query,
		Position:   position,
		BatchID:    b.id,
		Statements: len(b.stmts),
		Err:        err,
	})
}
