package main

import (
	"github.com/tomyedwab/sqlitebridge/sqlite"
	"github.com/urfave/cli/v2"
)

func tablesCommand() *cli.Command {
	return &cli.Command{
		Name:      "tables",
		Usage:     "list tables and views, or the columns of one table",
		ArgsUsage: "[TABLE]",
		Action: func(ctx *cli.Context) error {
			table := ctx.Args().First()

			return withConn(ctx, func(conn *sqlite.Conn) error {
				if table != "" {
					columns, err := conn.TableColumns(table)
					if err != nil {
						return err
					}
					for _, c := range columns {
						if err := printJSON(ctx, c); err != nil {
							return err
						}
					}
					return nil
				}

				tables, err := conn.Tables()
				if err != nil {
					return err
				}
				for _, t := range tables {
					if err := printJSON(ctx, t); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
