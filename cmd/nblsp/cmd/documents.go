package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dshills/nblsp/internal/notebook"
	"github.com/dshills/nblsp/internal/report"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

func documentsCommand() *cli.Command {
	return &cli.Command{
		Name:      "documents",
		Usage:     "List the virtual documents of a notebook without starting servers",
		ArgsUsage: "NOTEBOOK",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output documents as JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := notebookArg(cmd)
			if err != nil {
				return err
			}
			settings, err := loadSettings(ctx, cmd, path)
			if err != nil {
				return err
			}
			extractors, err := settings.CompileExtractors()
			if err != nil {
				return err
			}
			logger, closeLog, err := newLogger(cmd, settings)
			if err != nil {
				return err
			}
			defer closeLog()

			surface, _, err := notebook.Open(path)
			if err != nil {
				return err
			}
			tree := virtualdoc.NewTree(virtualdoc.TreeOptions{
				Path:          surface.Path(),
				Language:      surface.Language(),
				FileExtension: surface.FileExtension(),
				VirtualDir:    settings.VirtualDocumentsDir,
				BlankLines:    settings.BlankLines,
				Extractors:    extractors,
				Logger:        logger,
			})
			defer tree.Dispose()
			tree.Update(surface.Buffers())

			r := report.FromTree(path, tree)
			w := cmd.Root().Writer
			if cmd.Bool("json") {
				out, err := r.JSON()
				if err != nil {
					return fmt.Errorf("failed to encode JSON: %w", err)
				}
				_, err = w.Write(out)
				return err
			}
			return r.WriteDocuments(w)
		},
	}
}
