package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"WARNING", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Config{Level: "warn", Format: "json", Output: &buf, Name: "nblsp"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("server slow")
	require.NoError(t, closeFn())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "server slow", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "nblsp", entry["logger"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Config{Level: "debug", Output: &buf})
	require.NoError(t, err)

	logger.Debug("tree built")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "tree built")
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nblsp.log")
	logger, closeFn, err := New(Config{File: path})
	require.NoError(t, err)

	logger.Info("written")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
}

func TestNew_UnknownFormat(t *testing.T) {
	_, _, err := New(Config{Format: "xml"})
	assert.Error(t, err)
}
