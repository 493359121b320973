// Package client talks to a sqlproxy host through a HostCall function.
//
// The host may live in the same process (pass host.Host.HandleRequest) or
// behind any transport that carries one JSON payload per call, such as the
// line-oriented serve command of the sqlitebridge binary.
//
// Usage:
//
//	h := host.New(host.Config{})
//	c := client.New(h.HandleRequest)
//	db, err := c.Open("app.db", sqlite.ReadWrite|sqlite.Create, 2*time.Second)
//	if err != nil {
//		// handle error
//	}
//	defer db.Close()
//
//	rows, err := db.Run("SELECT * FROM t WHERE id = :id", sqlite.Params{"id": 1})
//
// Errors reported by the host are rebuilt into *sqlite.Error and
// *sqlite.BatchError values, so errors.Is(err, sqlite.CodeStatement) works
// across the boundary.
//
// Connector adapts a Client to database/sql for code that expects *sql.DB.
// Every pooled connection is its own host handle, and database/sql
// transactions map to BEGIN and COMMIT statements on that handle.
package client
