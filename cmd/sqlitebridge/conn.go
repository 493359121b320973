package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/tomyedwab/sqlitebridge/connlog"
	"github.com/tomyedwab/sqlitebridge/sqlite"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"
)

func connFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "db", Usage: "database location", EnvVars: []string{"SQLITEBRIDGE_DB"}},
		&cli.StringFlag{Name: "flags", Value: "rw,create", Usage: "open flags: ro, rw, create, uri, memory, no-mutex, full-mutex, shared-cache, private-cache"},
		&cli.DurationFlag{Name: "busy-timeout", Value: 5 * time.Second},
		&cli.StringFlag{Name: "event-log", Usage: "database file recording connection events", EnvVars: []string{"SQLITEBRIDGE_EVENT_LOG"}},
	}
}

// openTracer returns the tracer for this invocation: the context logger,
// plus the event log when one is configured.
func openTracer(ctx *cli.Context) (sqlite.Tracer, *connlog.Store, func() error, error) {
	logger := slogctx.FromCtx(ctx.Context)
	slogTracer := sqlite.NewSlogTracer(logger)

	path := ctx.String("event-log")
	if path == "" {
		return slogTracer, nil, func() error { return nil }, nil
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	store, err := connlog.NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to initialize event log %s: %w", path, err)
	}
	return sqlite.MultiTracer(slogTracer, store), store, db.Close, nil
}

// openConn opens the --db connection. The returned release function closes
// the connection and the event log.
func openConn(ctx *cli.Context) (*sqlite.Conn, func() error, error) {
	flags, err := sqlite.ParseOpenFlags(ctx.String("flags"))
	if err != nil {
		return nil, nil, err
	}

	tracer, _, closeTracer, err := openTracer(ctx)
	if err != nil {
		return nil, nil, err
	}

	conn, err := sqlite.Open(sqlite.Config{
		Location:    ctx.String("db"),
		Flags:       flags,
		BusyTimeout: ctx.Duration("busy-timeout"),
		Tracer:      tracer,
	})
	if err != nil {
		closeTracer()
		return nil, nil, err
	}

	release := func() error {
		var result *multierror.Error
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := closeTracer(); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	}
	return conn, release, nil
}

// withConn runs fn on the --db connection and releases it afterwards.
func withConn(ctx *cli.Context, fn func(*sqlite.Conn) error) (err error) {
	conn, release, err := openConn(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(conn)
}

// printJSON writes v as one JSON line to the app's writer.
func printJSON(ctx *cli.Context, v any) error {
	return json.NewEncoder(ctx.App.Writer).Encode(v)
}
