package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/config"
	"github.com/dshills/nblsp/internal/controller"
	"github.com/dshills/nblsp/internal/editor"
	"github.com/dshills/nblsp/internal/logging"
	"github.com/dshills/nblsp/internal/lsp"
	"github.com/dshills/nblsp/internal/notebook"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

const (
	disposeTimeout = 5 * time.Second
	pollInterval   = 50 * time.Millisecond
)

// flagKeys maps global flags to setting keys.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"log-file":    "log.file",
	"virtual-dir": "virtual_documents_dir",
	"blank-lines": "blank_lines",
}

// notebookArg returns the single notebook path argument.
func notebookArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("expected one notebook path, got %d arguments", cmd.Args().Len())
	}
	return filepath.Abs(cmd.Args().First())
}

// loadSettings layers the settings for a notebook. Project settings are read
// from the notebook's directory and flags override everything else.
func loadSettings(ctx context.Context, cmd *cli.Command, path string) (config.Settings, error) {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if !cmd.IsSet(flag) {
			continue
		}
		if flag == "blank-lines" {
			overrides[key] = cmd.Int(flag)
		} else {
			overrides[key] = cmd.String(flag)
		}
	}

	opts := []config.Option{
		config.WithProjectConfigDir(filepath.Dir(path)),
		config.WithOverrides(overrides),
	}
	if file := cmd.String("config"); file != "" {
		opts = append(opts, config.WithFile(file))
	}
	cfg := config.New(opts...)
	if err := cfg.Load(ctx); err != nil {
		return config.Settings{}, err
	}
	return cfg.Settings()
}

func newLogger(cmd *cli.Command, settings config.Settings) (*zap.Logger, func() error, error) {
	return logging.New(logging.Config{
		Level:  settings.Log.Level,
		Format: settings.Log.Format,
		File:   settings.Log.File,
		Output: cmd.Root().ErrWriter,
		Name:   "nblsp",
	})
}

// session is one notebook synchronized with its language servers.
type session struct {
	path     string
	settings config.Settings
	logger   *zap.Logger
	closeLog func() error
	surface  *editor.MemorySurface
	conns    *lsp.Manager
	ctrl     *controller.Controller
}

// openSession loads the notebook at path and starts synchronizing it with
// every configured server whose command is installed.
func openSession(ctx context.Context, cmd *cli.Command, path string) (*session, error) {
	settings, err := loadSettings(ctx, cmd, path)
	if err != nil {
		return nil, err
	}
	extractors, err := settings.CompileExtractors()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := newLogger(cmd, settings)
	if err != nil {
		return nil, err
	}

	surface, _, err := notebook.Open(path)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	servers := lsp.AvailableServers(settings.ServerConfigs())
	logger.Debug("language servers available", zap.Strings("languages", lo.Keys(servers)))

	conns := lsp.NewManager(
		lsp.WithLogger(logger),
		lsp.WithServers(servers),
		lsp.WithRetry(settings.Connection.MaxRetries, settings.Connection.InitialInterval),
		lsp.WithConnectTimeout(settings.Connection.Timeout),
		lsp.WithRequestTimeout(settings.Connection.RequestTimeout),
	)
	ctrl, err := controller.New(controller.Options{
		Surface:     surface,
		Connections: conns,
		Extractors:  extractors,
		VirtualDir:  settings.VirtualDocumentsDir,
		BlankLines:  settings.BlankLines,
		StatusTTL:   settings.StatusTimeout,
		Logger:      logger,
	})
	if err != nil {
		_ = conns.Shutdown(ctx)
		_ = closeLog()
		return nil, err
	}

	s := &session{
		path:     path,
		settings: settings,
		logger:   logger,
		closeLog: closeLog,
		surface:  surface,
		conns:    conns,
		ctrl:     ctrl,
	}
	if err := ctrl.Open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// served reports whether doc has a language server to connect to.
func (s *session) served(doc *virtualdoc.Document) bool {
	return s.conns.HasServer(doc.Language())
}

// connected reports whether every served document is connected.
func (s *session) connected() bool {
	tree := s.ctrl.Tree()
	if tree == nil {
		return false
	}
	return lo.EveryBy(tree.Documents(), func(doc *virtualdoc.Document) bool {
		return !s.served(doc) || s.ctrl.Phase(doc.IDPath()) == controller.PhaseConnected
	})
}

// waitConnected polls until every served document is connected or timeout
// elapses. It reports whether all documents connected.
func (s *session) waitConnected(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if s.connected() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

// Close disposes the controller, which shuts down the servers.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	if err := s.ctrl.Dispose(ctx); err != nil {
		s.logger.Warn("dispose failed", zap.Error(err))
	}
	_ = s.logger.Sync()
	_ = s.closeLog()
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
