package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/tomyedwab/sqlitebridge/sqlproxy/host"
	"github.com/tomyedwab/sqlitebridge/sqlproxy/types"
)

// runApp runs the CLI in-process and returns what it printed.
func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"sqlitebridge"}, args...))
	return out.String(), err
}

func TestExecCommand(t *testing.T) {
	dbPath := path.Join(t.TempDir(), "cli.db")

	if _, err := runApp(t, "", "--db", dbPath, "exec", "CREATE TABLE t(id INTEGER, name TEXT)"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := runApp(t, "", "--db", dbPath, "exec", "-p", "id=1", "-p", "name=alpha", "INSERT INTO t VALUES (:id, :name)"); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := runApp(t, "", "--db", dbPath, "exec", "--params", `[2, "beta"]`, "INSERT INTO t VALUES (?, ?)"); err != nil {
		t.Fatalf("positional insert failed: %v", err)
	}

	out, err := runApp(t, "", "--db", dbPath, "--flags", "ro", "exec", "SELECT * FROM t ORDER BY id")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	want := "{\"id\":1,\"name\":\"alpha\"}\n{\"id\":2,\"name\":\"beta\"}\n"
	if out != want {
		t.Errorf("Expected %q, got %q", want, out)
	}

	if _, err := runApp(t, "", "--db", dbPath, "--flags", "ro", "exec", "INSERT INTO t VALUES (3, 'c')"); err == nil {
		t.Error("Expected a write on a read-only connection to fail")
	}
	if _, err := runApp(t, "", "--db", dbPath, "exec"); err == nil {
		t.Error("Expected an error without a statement")
	}
}

func TestFlagValue(t *testing.T) {
	tests := map[string]any{
		"1":     json.Number("1"),
		"1.5":   json.Number("1.5"),
		"abc":   "abc",
		`"1"`:   "1",
		"null":  nil,
		"[1,2]": "[1,2]",
		"":      "",
		"true":  true,
		"a=b":   "a=b",
	}
	for in, want := range tests {
		if got := flagValue(in); got != want {
			t.Errorf("flagValue(%q) = %#v, want %#v", in, got, want)
		}
	}
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := path.Join(dir, "batch.db")
	if _, err := runApp(t, "", "--db", dbPath, "exec", "CREATE TABLE t(id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stmtsPath := path.Join(dir, "stmts.json")
	err := os.WriteFile(stmtsPath, []byte(`[
		{"sql": "INSERT INTO t VALUES (1)"},
		{"sql": "INSERT INTO t VALUES (:id)", "params": {"id": 2}}
	]`), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := runApp(t, "", "--db", dbPath, "batch", "--mode", "immediate", stmtsPath); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	_, err = runApp(t, `[{"sql": "INSERT INTO t VALUES (3)"}, {"sql": "INSERT INTO t VALUES (1)"}]`, "--db", dbPath, "batch", "-")
	if err == nil || !strings.Contains(err.Error(), "position 2") {
		t.Errorf("Expected failure at position 2, got %v", err)
	}

	db := sqlx.MustConnect("sqlite3", dbPath)
	defer db.Close()
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM t"); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 rows, got %d", count)
	}
}

func TestTablesAndEvents(t *testing.T) {
	dir := t.TempDir()
	dbPath := path.Join(dir, "tables.db")
	logPath := path.Join(dir, "events.db")

	if _, err := runApp(t, "", "--db", dbPath, "--event-log", logPath, "exec", "CREATE TABLE t(id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := runApp(t, "", "--db", dbPath, "--event-log", logPath, "exec", "SELECT * FROM missing"); err == nil {
		t.Fatal("Expected query on a missing table to fail")
	}

	out, err := runApp(t, "", "--db", dbPath, "tables")
	if err != nil {
		t.Fatalf("tables failed: %v", err)
	}
	if !strings.Contains(out, `"name":"t"`) {
		t.Errorf("Expected table t in %q", out)
	}

	out, err = runApp(t, "", "--db", dbPath, "tables", "t")
	if err != nil {
		t.Fatalf("tables t failed: %v", err)
	}
	if lines := strings.Count(out, "\n"); lines != 2 {
		t.Errorf("Expected 2 columns, got %d lines: %q", lines, out)
	}

	out, err = runApp(t, "", "--event-log", logPath, "events", "--failures")
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if !strings.Contains(out, `"kind":"statement_failure"`) || !strings.Contains(out, "SELECT * FROM missing") {
		t.Errorf("Expected the statement failure in %q", out)
	}

	if _, err := runApp(t, "", "events"); err == nil {
		t.Error("Expected events without --event-log to fail")
	}
}

func TestServe(t *testing.T) {
	h := host.New(host.Config{})
	defer h.CloseAll()

	var out bytes.Buffer
	open := fmt.Sprintf(`{"command":"open","path":%q,"flags":6}`, path.Join(t.TempDir(), "serve.db"))
	if err := serve(h, bufio.NewScanner(strings.NewReader(open)), bufio.NewWriter(&out)); err != nil {
		t.Fatalf("serve returned error: %v", err)
	}
	var resp types.OpenResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil || resp.Error != nil {
		t.Fatalf("open failed: %s (%v)", out.String(), err)
	}

	out.Reset()
	requests := fmt.Sprintf("{\"command\":\"run\",\"handle\":%[1]d,\"sql\":\"SELECT 9e999 AS x\"}\n"+
		"{\"command\":\"run\",\"handle\":%[1]d,\"sql\":\"SELECT 1 AS one\"}\n\n{\"command\":\"bogus\"}\n", resp.Handle)
	if err := serve(h, bufio.NewScanner(strings.NewReader(requests)), bufio.NewWriter(&out)); err != nil {
		t.Fatalf("serve returned error: %v", err)
	}
	responses := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(responses) != 3 {
		t.Fatalf("Expected 3 responses, got %d: %q", len(responses), out.String())
	}
	if !strings.Contains(responses[0], `"cannot encode result"`) {
		t.Errorf("Unexpected infinite result response: %s", responses[0])
	}
	if responses[1] != `{"rows":[{"one":1}]}` {
		t.Errorf("Unexpected run response: %s", responses[1])
	}
	if !strings.Contains(responses[2], `"unknown command"`) {
		t.Errorf("Unexpected bogus response: %s", responses[2])
	}
}
