package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v3"
)

const testNotebook = `{
  "cells": [
    {"cell_type": "code", "id": "a1", "source": ["import os\n", "x = 1"]},
    {"cell_type": "markdown", "id": "m1", "source": "# Notes"},
    {"cell_type": "code", "id": "a2", "source": "%%R\ny <- 2"}
  ],
  "metadata": {"language_info": {"name": "python", "file_extension": ".py"}},
  "nbformat": 4,
  "nbformat_minor": 5
}`

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(context.Background(), append([]string{"nblsp"}, args...))
	return out.String(), err
}

func writeTestNotebook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analysis.ipynb")
	require.NoError(t, os.WriteFile(path, []byte(testNotebook), 0o644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "nblsp version dev\n", out)

	out, err = runApp(t, "version", "--json")
	require.NoError(t, err)
	assert.Equal(t, "dev", gjson.Get(out, "version").String())
	assert.NotEmpty(t, gjson.Get(out, "goVersion").String())
}

func TestDocumentsCommand_JSON(t *testing.T) {
	path := writeTestNotebook(t)
	virtualDir := t.TempDir()

	out, err := runApp(t, "--virtual-dir", virtualDir, "documents", "--json", path)
	require.NoError(t, err)
	require.True(t, gjson.Valid(out), out)

	assert.Equal(t, path, gjson.Get(out, "path").String())
	assert.Equal(t, int64(2), gjson.Get(out, "documents.#").Int())
	assert.Equal(t, "python", gjson.Get(out, "documents.0.language").String())
	assert.Equal(t, "r", gjson.Get(out, `documents.#(language=="r").language`).String())
	assert.Contains(t, gjson.Get(out, "documents.0.uri").String(), virtualDir)
	assert.Equal(t, int64(0), gjson.Get(out, "diagnostics.#").Int())
}

func TestDocumentsCommand_Table(t *testing.T) {
	path := writeTestNotebook(t)

	out, err := runApp(t, "documents", path)
	require.NoError(t, err)
	assert.Contains(t, out, "LANGUAGE")
	assert.Contains(t, out, "python")
	assert.Contains(t, out, "r")
}

func TestDocumentsCommand_Errors(t *testing.T) {
	_, err := runApp(t, "documents")
	assert.Error(t, err)

	_, err = runApp(t, "documents", filepath.Join(t.TempDir(), "missing.ipynb"))
	assert.Error(t, err)

	path := writeTestNotebook(t)
	_, err = runApp(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "documents", path)
	assert.Error(t, err)
}

func TestFlagOverrides(t *testing.T) {
	path := writeTestNotebook(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	app := NewApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard

	var blankLines int
	var level string
	app.Commands = append(app.Commands, &cli.Command{
		Name: "probe",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			settings, err := loadSettings(ctx, cmd, path)
			if err != nil {
				return err
			}
			blankLines = settings.BlankLines
			level = settings.Log.Level
			return nil
		},
	})

	err := app.Run(context.Background(), []string{"nblsp", "--blank-lines", "0", "--log-level", "debug", "probe"})
	require.NoError(t, err)
	assert.Equal(t, 0, blankLines)
	assert.Equal(t, "debug", level)
}
