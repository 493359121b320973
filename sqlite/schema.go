package sqlite

import (
	"context"
	"strings"
)

// TableInfo describes a table or view of the main schema.
type TableInfo struct {
	Name string `db:"name" json:"name"`
	Type string `db:"type" json:"type"`
	SQL  string `db:"sql" json:"sql"`
}

// ColumnInfo is one row of the engine's table_info pragma.
type ColumnInfo struct {
	ID         int     `db:"cid" json:"id"`
	Name       string  `db:"name" json:"name"`
	Type       string  `db:"type" json:"type"`
	NotNull    bool    `db:"notnull" json:"notNull"`
	Default    *string `db:"dflt_value" json:"default,omitempty"`
	PrimaryKey int     `db:"pk" json:"primaryKey"`
}

const tablesSQL = `
SELECT name, type, COALESCE(sql, '') AS sql
FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
ORDER BY name`

const columnsSQL = `
SELECT cid, name, type, "notnull", dflt_value, pk
FROM pragma_table_info(?)
ORDER BY cid`

// Tables lists the user tables and views, ordered by name.
func (c *Conn) Tables() ([]TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, closedError()
	}

	tables := []TableInfo{}
	if err := c.conn.SelectContext(context.Background(), &tables, tablesSQL); err != nil {
		e := engineError("cannot list tables", strings.TrimSpace(tablesSQL), err)
		c.trace(Event{Kind: EventStatementFailure, Query: e.Query, Err: e})
		return nil, e
	}
	return tables, nil
}

// TableColumns describes the columns of table. An unknown table has no
// columns.
func (c *Conn) TableColumns(table string) ([]ColumnInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, closedError()
	}

	columns := []ColumnInfo{}
	if err := c.conn.SelectContext(context.Background(), &columns, columnsSQL, table); err != nil {
		e := engineError("cannot describe table", strings.TrimSpace(columnsSQL), err)
		e.Details = table
		c.trace(Event{Kind: EventStatementFailure, Query: e.Query, Err: e})
		return nil, e
	}
	return columns, nil
}
