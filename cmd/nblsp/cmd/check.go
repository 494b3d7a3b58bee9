package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/report"
)

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Report language server diagnostics for a notebook",
		ArgsUsage: "NOTEBOOK",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "How long to wait for documents to connect",
				Value:   30 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "How long to wait for diagnostics after connecting",
				Value: 2 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output documents and diagnostics as JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := notebookArg(cmd)
			if err != nil {
				return err
			}
			s, err := openSession(ctx, cmd, path)
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.waitConnected(ctx, cmd.Duration("wait")) {
				s.logger.Warn("not every document connected", zap.Duration("wait", cmd.Duration("wait")))
			}
			sleep(ctx, cmd.Duration("settle"))
			if err := ctx.Err(); err != nil {
				return err
			}

			r := report.FromController(path, s.ctrl)
			w := cmd.Root().Writer
			if cmd.Bool("json") {
				out, err := r.JSON()
				if err != nil {
					return fmt.Errorf("failed to encode JSON: %w", err)
				}
				if _, err := w.Write(out); err != nil {
					return err
				}
			} else if err := r.WriteDiagnostics(w); err != nil {
				return err
			}

			if r.Errors() > 0 {
				return ErrDiagnostics
			}
			return nil
		},
	}
}
