package main

import (
	"fmt"

	"github.com/tomyedwab/sqlitebridge/connlog"
	"github.com/tomyedwab/sqlitebridge/sqlite"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"
)

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "print recorded connection events, most recent first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 50},
			&cli.Int64Flag{Name: "handle", Usage: "only events of this connection handle"},
			&cli.StringFlag{Name: "kind", Usage: "only events of this kind, e.g. statement_failure"},
			&cli.BoolFlag{Name: "failures", Usage: "only events that carry an error"},
			&cli.DurationFlag{Name: "prune", Usage: "first delete events older than this"},
		},
		Action: func(ctx *cli.Context) error {
			var (
				logger = slogctx.FromCtx(ctx.Context)
				limit  = ctx.Int("limit")
			)

			if ctx.String("event-log") == "" {
				return fmt.Errorf("--event-log must be specified")
			}
			if limit <= 0 {
				limit = 50
			}

			_, store, closeStore, err := openTracer(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if prune := ctx.Duration("prune"); prune > 0 {
				deleted, err := store.DeleteOlderThan(prune)
				if err != nil {
					return err
				}
				logger.Info("Pruned connection events", "deleted", deleted, "older_than", prune.String())
			}

			var entries []connlog.Entry
			switch {
			case ctx.IsSet("handle"):
				entries, err = store.ByHandle(ctx.Int64("handle"), limit)
			case ctx.String("kind") != "":
				entries, err = store.ByKind(sqlite.EventKind(ctx.String("kind")), limit)
			case ctx.Bool("failures"):
				entries, err = store.Failures(limit)
			default:
				entries, err = store.Recent(limit)
			}
			if err != nil {
				return err
			}

			for _, e := range entries {
				if err := printJSON(ctx, e); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
