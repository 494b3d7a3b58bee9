package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/notebook"
	"github.com/dshills/nblsp/internal/report"
	"github.com/dshills/nblsp/internal/status"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Keep a notebook synchronized and print diagnostics whenever it is saved",
		ArgsUsage: "NOTEBOOK",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "Coalesce writes arriving within this interval",
				Value: 100 * time.Millisecond,
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "How long to wait for diagnostics after a reload",
				Value: time.Second,
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

			out, errOut := cmd.Root().Writer, cmd.Root().ErrWriter
			statusSub := s.ctrl.Status().Changed.Connect(func(m status.Message) {
				if m.Text != "" {
					fmt.Fprintln(errOut, m.Text)
				}
			})
			defer statusSub.Cancel()

			w, err := notebook.NewWatcher(path, s.surface,
				notebook.WithDebounce(cmd.Duration("debounce")),
				notebook.WithWatcherLogger(s.logger))
			if err != nil {
				return err
			}
			defer w.Close()

			applied := make(chan struct{}, 1)
			appliedSub := w.Applied.Connect(func(*notebook.Notebook) {
				select {
				case applied <- struct{}{}:
				default:
				}
			})
			defer appliedSub.Cancel()

			settle := cmd.Duration("settle")
			s.waitConnected(ctx, s.settings.Connection.Timeout)
			sleep(ctx, settle)
			if err := printDiagnostics(out, s); err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-w.Errors():
					if errors.Is(err, notebook.ErrInvalidNotebook) {
						fmt.Fprintf(errOut, "%v\n", err)
						continue
					}
					s.logger.Warn("watch error", zap.Error(err))
				case <-applied:
					sleep(ctx, settle)
					if err := printDiagnostics(out, s); err != nil {
						return err
					}
				}
			}
		},
	}
}

func printDiagnostics(w io.Writer, s *session) error {
	r := report.FromController(s.path, s.ctrl)
	if _, err := fmt.Fprintf(w, "--- %s: %d diagnostics, %d errors\n",
		time.Now().Format(time.TimeOnly), len(r.Diagnostics), r.Errors()); err != nil {
		return err
	}
	return r.WriteDiagnostics(w)
}
