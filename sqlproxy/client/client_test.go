package client

import (
	"bytes"
	"database/sql"
	"errors"
	"path"
	"testing"
	"time"

	"github.com/tomyedwab/sqlitebridge/sqlite"
	"github.com/tomyedwab/sqlitebridge/sqlproxy/host"
)

func setupTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	h := host.New(host.Config{Tracer: sqlite.TracerFunc(func(sqlite.Event) {})})
	t.Cleanup(func() { h.CloseAll() })
	return New(h.HandleRequest), path.Join(t.TempDir(), "client.db")
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	c, dbPath := setupTestClient(t)
	db, err := c.Open(dbPath, sqlite.ReadWrite|sqlite.Create, 2*time.Second)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return db
}

func TestRunAcrossBoundary(t *testing.T) {
	db := setupTestDB(t)

	rows, err := db.Run("CREATE TABLE t(id INTEGER, name TEXT, score REAL, data BLOB)", nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("Expected empty non-nil rows, got %#v", rows)
	}

	_, err = db.Run("INSERT INTO t VALUES (:id, :name, :score, :data)",
		sqlite.Params{"id": 1, "name": "a", "score": 2.0, "data": []byte{0, 9, 255}})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	rows, err = db.Run("SELECT * FROM t", nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if v, _ := row.Get("id"); v != sqlite.Integer(1) {
		t.Errorf("Expected Integer(1), got %#v", v)
	}
	if v, _ := row.Get("name"); v != sqlite.Text("a") {
		t.Errorf("Expected Text(a), got %#v", v)
	}
	if v, _ := row.Get("score"); v != sqlite.Real(2) {
		t.Errorf("Expected Real(2), got %#v", v)
	}
	if v, _ := row.Get("data"); !bytes.Equal(v.(sqlite.Blob), []byte{0, 9, 255}) {
		t.Errorf("Expected blob, got %#v", v)
	}
}

func TestErrorsAcrossBoundary(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Run("SELEC 1", nil)
	if !errors.Is(err, sqlite.CodeStatement) {
		t.Fatalf("Expected StatementError, got %v", err)
	}
	var serr *sqlite.Error
	if !errors.As(err, &serr) || serr.Query != "SELEC 1" || serr.Err == nil {
		t.Errorf("Expected query and cause to survive, got %#v", serr)
	}

	_, err = db.Run("SELECT :x", sqlite.Params{"x": struct{}{}})
	if !errors.Is(err, sqlite.CodeUnhandledParameterType) {
		t.Errorf("Expected UnhandledParameterType, got %v", err)
	}

	if _, err := db.Run("CREATE TABLE t(id INTEGER PRIMARY KEY)", nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	err = db.BulkRun(sqlite.Deferred, []sqlite.Statement{
		{SQL: "INSERT INTO t VALUES (1)"},
		{SQL: "INSERT INTO t VALUES (1)"},
	})
	var berr *sqlite.BatchError
	if !errors.As(err, &berr) || berr.Position != 2 {
		t.Fatalf("Expected failure at position 2, got %v", err)
	}
	if !errors.Is(err, sqlite.CodeStatement) {
		t.Errorf("Expected StatementError, got %v", err)
	}

	rows, err := db.Run("SELECT COUNT(*) AS n FROM t", nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if v, _ := rows[0].Get("n"); v != sqlite.Integer(0) {
		t.Errorf("Expected rollback, got count %#v", v)
	}
}

func TestBulkInsertAcrossBoundary(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.Run("CREATE TABLE t(id INTEGER PRIMARY KEY, name TEXT)", nil); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	err := db.BulkInsert(sqlite.BulkInsert{
		Table:   "t",
		Columns: []string{"id", "name"},
		Rows:    [][]any{{1, "a"}, {2, nil}, {3, []byte("c")}},
	})
	if err != nil {
		t.Fatalf("BulkInsert returned error: %v", err)
	}

	rows, err := db.Run("SELECT typeof(name) AS kind FROM t ORDER BY id", nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	want := []string{"text", "null", "blob"}
	for i, row := range rows {
		if v, _ := row.Get("kind"); v != sqlite.Text(want[i]) {
			t.Errorf("Row %d: expected %s, got %#v", i, want[i], v)
		}
	}

	err = db.BulkInsert(sqlite.BulkInsert{Table: "t", Columns: []string{"id"}, Rows: [][]any{{make(chan int)}}})
	if !errors.Is(err, sqlite.CodeUnhandledParameterType) {
		t.Errorf("Expected UnhandledParameterType, got %v", err)
	}
}

func TestCloseAcrossBoundary(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := db.Close(); !errors.Is(err, sqlite.CodeClosedConnection) {
		t.Errorf("Expected ClosedConnectionError, got %v", err)
	}
	if _, err := db.Run("SELECT 1", nil); !errors.Is(err, sqlite.CodeClosedConnection) {
		t.Errorf("Expected ClosedConnectionError, got %v", err)
	}
}

func TestOpenErrorAcrossBoundary(t *testing.T) {
	c, dbPath := setupTestClient(t)
	_, err := c.Open(dbPath, sqlite.ReadOnly, 0)
	if !errors.Is(err, sqlite.CodeIO) {
		t.Errorf("Expected IOError, got %v", err)
	}
	_, err = c.Open(dbPath, 0, 0)
	if !errors.Is(err, sqlite.CodeConfiguration) {
		t.Errorf("Expected ConfigurationError, got %v", err)
	}

	if _, err := New(nil).Open(dbPath, sqlite.Create, 0); err == nil {
		t.Error("Expected error without a host call function")
	}
}

func TestDatabaseSQL(t *testing.T) {
	c, dbPath := setupTestClient(t)
	db := sql.OpenDB(&Connector{Client: c, Path: dbPath, Flags: sqlite.Create, BusyTimeout: 2 * time.Second})
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("CREATE TABLE t(id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}

	res, err := db.Exec("INSERT INTO t(name) VALUES (?)", "a")
	if err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	if id, _ := res.LastInsertId(); id != 1 {
		t.Errorf("Expected last insert id 1, got %d", id)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Errorf("Expected 1 row affected, got %d", n)
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if _, err := tx.Exec("INSERT INTO t(name) VALUES (:name)", sql.Named("name", "b")); err != nil {
		t.Fatalf("Exec in tx returned error: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("QueryRow returned error: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected rollback to leave 1 row, got %d", count)
	}

	var name string
	if err := db.QueryRow("SELECT name FROM t WHERE id = ?", 1).Scan(&name); err != nil {
		t.Fatalf("QueryRow returned error: %v", err)
	}
	if name != "a" {
		t.Errorf("Expected a, got %q", name)
	}

	err = db.QueryRow("SELECT name FROM t WHERE id = ?", 99).Scan(&name)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}
}

func TestDatabaseSQLCommitBusy(t *testing.T) {
	c, dbPath := setupTestClient(t)
	db := sql.OpenDB(&Connector{Client: c, Path: dbPath, Flags: sqlite.Create, BusyTimeout: 100 * time.Millisecond})
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("CREATE TABLE t(id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}

	// A reader inside a transaction keeps its shared lock, so COMMIT cannot
	// get the exclusive lock it needs.
	reader, err := sqlite.Open(sqlite.Config{Location: dbPath, Flags: sqlite.ReadOnly, Tracer: sqlite.TracerFunc(func(sqlite.Event) {})})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer reader.Close()
	if _, err := reader.Run("BEGIN TRANSACTION", nil); err != nil {
		t.Fatalf("BEGIN returned error: %v", err)
	}
	if _, err := reader.Run("SELECT COUNT(*) FROM t", nil); err != nil {
		t.Fatalf("SELECT returned error: %v", err)
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if _, err := tx.Exec("INSERT INTO t VALUES (1)"); err != nil {
		t.Fatalf("Exec in tx returned error: %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, sqlite.CodeIO) {
		t.Fatalf("Expected IOError from a busy COMMIT, got %v", err)
	}

	if _, err := reader.Run("COMMIT TRANSACTION", nil); err != nil {
		t.Fatalf("COMMIT returned error: %v", err)
	}

	// The failed transaction was rolled back and the connection can start a new one.
	tx, err = db.Begin()
	if err != nil {
		t.Fatalf("Begin after failed commit returned error: %v", err)
	}
	if _, err := tx.Exec("INSERT INTO t VALUES (2)"); err != nil {
		t.Fatalf("Exec in tx returned error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	var ids []int
	rows, err := db.Query("SELECT id FROM t ORDER BY id")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		ids = append(ids, id)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Expected only id 2, got %v", ids)
	}
}
