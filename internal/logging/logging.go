// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the logger.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string

	// Format is "console" or "json".
	Format string

	// File receives logs when set; the file is appended to.
	File string

	// Output is where logs are written when File is empty. Defaults to os.Stderr.
	Output io.Writer

	// Name names the root logger.
	Name string
}

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger. The returned close function flushes the logger and
// closes the log file, if any.
func New(cfg Config) (*zap.Logger, func() error, error) {
	var (
		out     zapcore.WriteSyncer
		closeFn = func() error { return nil }
	)
	switch {
	case cfg.File != "":
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.AddSync(f)
		closeFn = f.Close
	case cfg.Output != nil:
		out = zapcore.AddSync(cfg.Output)
	default:
		out = zapcore.Lock(os.Stderr)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger := zap.New(zapcore.NewCore(enc, out, ParseLevel(cfg.Level)), zap.AddCaller())
	if cfg.Name != "" {
		logger = logger.Named(cfg.Name)
	}
	return logger, func() error {
		_ = logger.Sync()
		return closeFn()
	}, nil
}
