package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/agnosticeng/panicsafe"
	"github.com/agnosticeng/slogcli"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:   "sqlitebridge",
		Usage:  "run statements against a SQLite file through the bridge connection layer",
		Flags:  append(slogcli.SlogFlags(), connFlags()...),
		Before: slogcli.SlogBefore,
		Commands: []*cli.Command{
			execCommand(),
			batchCommand(),
			tablesCommand(),
			eventsCommand(),
			serveCommand(),
		},
	}
}

func main() {
	app := newApp()

	var err = panicsafe.Recover(func() error { return app.Run(os.Args) })

	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		os.Exit(1)
	}
}
