package main

import (
	"bufio"
	"fmt"

	"github.com/tomyedwab/sqlitebridge/sqlproxy/host"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"
)

const maxRequestSize = 64 << 20

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "answer newline-delimited JSON requests from stdin, one response line each",
		Action: func(ctx *cli.Context) error {
			logger := slogctx.FromCtx(slogctx.With(ctx.Context, "command", "serve"))

			tracer, _, closeTracer, err := openTracer(ctx)
			if err != nil {
				return err
			}
			defer closeTracer()

			h := host.New(host.Config{Logger: logger, Tracer: tracer})
			defer func() {
				if err := h.CloseAll(); err != nil {
					logger.Warn("Failed to close connections", "error", err)
				}
			}()

			logger.Info("Serving requests on stdin")
			return serve(h, bufio.NewScanner(ctx.App.Reader), bufio.NewWriter(ctx.App.Writer))
		},
	}
}

func serve(h *host.Host, in *bufio.Scanner, out *bufio.Writer) error {
	in.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
	for in.Scan() {
		line := in.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, err := h.HandleRequest(line)
		if err != nil {
			return err
		}
		if _, err := out.Write(append(resp, '\n')); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	if err := in.Err(); err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	return nil
}
