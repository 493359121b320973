package sqlite

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// maxBulkVariables keeps each generated statement under the engine's
// historical default limit on bound variables.
const maxBulkVariables = 999

// BulkInsert inserts many rows with multi-row VALUES statements.
type BulkInsert struct {
	// Table is the target table, optionally schema-qualified.
	Table string
	// Columns name the inserted columns; "t.col" and already back-quoted
	// names are accepted.
	Columns []string
	// Rows hold one host value per column.
	Rows [][]any
	// OnConflict is appended verbatim, e.g.
	// "ON CONFLICT (id) DO UPDATE SET name = excluded.name".
	OnConflict string
}

// Statements renders the insert as one or more positional statements, each
// binding at most maxBulkVariables values.
func (bi BulkInsert) Statements() ([]Statement, error) {
	if strings.TrimSpace(bi.Table) == "" {
		return nil, configError("bulk insert requires a table", "")
	}
	if len(bi.Columns) == 0 {
		return nil, configError("bulk insert requires columns", bi.Table)
	}
	for i, row := range bi.Rows {
		if len(row) != len(bi.Columns) {
			return nil, &Error{
				Code:    CodeBindParameter,
				Message: "row does not match columns",
				Details: fmt.Sprintf("row %d has %d values for %d columns", i+1, len(row), len(bi.Columns)),
			}
		}
	}

	columns := strings.Join(lo.Map(bi.Columns, func(c string, _ int) string {
		return quoteIdentifier(c)
	}), ",")
	tuple := "(" + strings.Join(lo.Times(len(bi.Columns), func(int) string { return "?" }), ",") + ")"
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", quoteIdentifier(bi.Table), columns)

	perStatement := max(1, maxBulkVariables/len(bi.Columns))
	stmts := make([]Statement, 0, len(bi.Rows)/perStatement+1)
	for _, chunk := range lo.Chunk(bi.Rows, perStatement) {
		var sql strings.Builder
		sql.WriteString(head)
		sql.WriteString(strings.Join(lo.Times(len(chunk), func(int) string { return tuple }), ","))
		if bi.OnConflict != "" {
			sql.WriteString(" ")
			sql.WriteString(strings.TrimSpace(bi.OnConflict))
		}
		stmts = append(stmts, Statement{SQL: sql.String(), Params: Args(lo.Flatten(chunk)...)})
	}
	return stmts, nil
}

// BulkInsert runs bi atomically. An empty Rows slice is a no-op.
func (c *Conn) BulkInsert(bi BulkInsert) error {
	stmts, err := bi.Statements()
	if err != nil {
		return err
	}
	if len(stmts) == 0 {
		return nil
	}
	return c.Batch(stmts)
}

// CreateIndex creates a single-column index unless it already exists.
func (c *Conn) CreateIndex(index, table, column string) error {
	if index == "" || table == "" || column == "" {
		return configError("index, table and column are required", fmt.Sprintf("%q %q %q", index, table, column))
	}
	_, err := c.Run(fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdentifier(index), quoteIdentifier(table), quoteIdentifier(column),
	), nil)
	return err
}

// quoteIdentifier back-quotes each dot-separated part of name unless the part
// is quoted already.
func quoteIdentifier(name string) string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i, p := range parts {
		if strings.HasPrefix(p, "`") || strings.HasPrefix(p, `"`) || strings.HasPrefix(p, "[") {
			continue
		}
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}
