// Package cmd implements the nblsp command line.
package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dshills/nblsp/internal/version"
)

// ErrDiagnostics is returned by check when error diagnostics were reported.
var ErrDiagnostics = errors.New("notebook has error diagnostics")

// NewApp creates the CLI application
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "nblsp",
		Usage:   "Language server support for multi-language notebooks",
		Version: version.Version(),
		Description: `nblsp splits a notebook into one virtual document per language and keeps
each document synchronized with its language server.

Cells written in another language, such as %%R or %%html cell magics, become
foreign documents with their own servers. Diagnostics are mapped back to the
cell and line they belong to.

Examples:
  nblsp documents analysis.ipynb
  nblsp check --wait 20s analysis.ipynb
  nblsp watch analysis.ipynb`,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a settings file loaded after user and project settings",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: console, json",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Append logs to this file instead of stderr",
			},
			&cli.StringFlag{
				Name:  "virtual-dir",
				Usage: "Directory virtual document URIs point into",
			},
			&cli.IntFlag{
				Name:  "blank-lines",
				Usage: "Blank lines placed between cells in a virtual document",
			},
		},
		Commands: []*cli.Command{
			documentsCommand(),
			checkCommand(),
			watchCommand(),
			versionCommand(),
		},
	}
}

// Execute runs the CLI application
func Execute(ctx context.Context) error {
	return NewApp().Run(ctx, os.Args)
}
