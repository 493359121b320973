package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tomyedwab/sqlitebridge/sqlite"
	"github.com/tomyedwab/sqlitebridge/sqlproxy/types"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"
)

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "run a JSON array of {sql, params} statements in one transaction",
		ArgsUsage: "FILE (or - for stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Value: "deferred", Usage: "transaction mode: deferred, immediate or exclusive"},
		},
		Action: func(ctx *cli.Context) error {
			var (
				logger = slogctx.FromCtx(ctx.Context)
				path   = ctx.Args().First()
			)

			if path == "" {
				return fmt.Errorf("a statements file must be specified")
			}

			mode, err := sqlite.ParseTxMode(ctx.String("mode"))
			if err != nil {
				return err
			}

			stmts, err := readStatements(ctx, path)
			if err != nil {
				return err
			}

			return withConn(ctx, func(conn *sqlite.Conn) error {
				if err := conn.BatchTx(mode, stmts); err != nil {
					return err
				}
				logger.Info("Batch committed", "statements", len(stmts), "mode", mode.String())
				return nil
			})
		},
	}
}

func readStatements(ctx *cli.Context, path string) ([]sqlite.Statement, error) {
	var r io.Reader = ctx.App.Reader
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var reqs []types.StatementRequest
	if err := json.NewDecoder(r).Decode(&reqs); err != nil {
		return nil, fmt.Errorf("failed to parse statements: %w", err)
	}

	stmts := make([]sqlite.Statement, len(reqs))
	for i, req := range reqs {
		params, err := types.DecodeParams(req.Params)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i+1, err)
		}
		stmts[i] = sqlite.Statement{SQL: req.SQL, Params: params}
	}
	return stmts, nil
}
