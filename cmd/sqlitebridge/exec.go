package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tomyedwab/sqlitebridge/sqlite"
	"github.com/tomyedwab/sqlitebridge/sqlproxy/types"
	"github.com/urfave/cli/v2"
)

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "run one statement and print its rows as JSON lines",
		ArgsUsage: "SQL",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "named parameter, name=value"},
			&cli.StringSliceFlag{Name: "arg", Aliases: []string{"a"}, Usage: "positional parameter, in order"},
			&cli.StringFlag{Name: "params", Usage: "parameters as a JSON object or array"},
		},
		Action: func(ctx *cli.Context) error {
			query := ctx.Args().First()
			if query == "" {
				return fmt.Errorf("a statement must be specified")
			}

			params, err := execParams(ctx)
			if err != nil {
				return err
			}

			return withConn(ctx, func(conn *sqlite.Conn) error {
				rows, err := conn.Run(query, params)
				if err != nil {
					return err
				}
				for _, row := range rows {
					if err := printJSON(ctx, row); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func execParams(ctx *cli.Context) (sqlite.Params, error) {
	params, err := types.DecodeParams(json.RawMessage(ctx.String("params")))
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = sqlite.Params{}
	}

	for _, kv := range ctx.StringSlice("param") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q must be name=value", kv)
		}
		params[name] = flagValue(value)
	}
	for i, value := range ctx.StringSlice("arg") {
		params[strconv.Itoa(i+1)] = flagValue(value)
	}
	return params, nil
}

// flagValue reads a command line value as JSON when it parses as a scalar,
// and as text otherwise, so that id=1 binds an integer and name=abc a string.
func flagValue(s string) any {
	v, err := types.ParamValue(json.RawMessage(s))
	if err != nil {
		return s
	}
	switch v.(type) {
	case []any, map[string]any:
		return s
	}
	return v
}
