package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/dshills/nblsp/internal/lsp"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

// Settings is the typed configuration.
type Settings struct {
	Log LogSettings `koanf:"log"`

	// VirtualDocumentsDir is where virtual document URIs point. Nothing is
	// written there.
	VirtualDocumentsDir string `koanf:"virtual_documents_dir"`

	// BlankLines separates cells inside a virtual document.
	BlankLines int `koanf:"blank_lines"`

	Connection ConnectionSettings `koanf:"connection"`

	// StatusTimeout is how long transient status messages stay visible.
	StatusTimeout time.Duration `koanf:"status_timeout"`

	// Servers maps LSP language identifiers to server commands.
	Servers map[string]ServerSettings `koanf:"servers"`

	// Extractors replace the built-in extractor rules when set.
	Extractors []ExtractorSettings `koanf:"extractors"`
}

// LogSettings configures the logger.
type LogSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// ConnectionSettings configures language server sessions.
type ConnectionSettings struct {
	Timeout         time.Duration `koanf:"timeout"`
	MaxRetries      uint          `koanf:"max_retries"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
}

// ServerSettings configures one language server.
type ServerSettings struct {
	Command               string            `koanf:"command"`
	Args                  []string          `koanf:"args"`
	Env                   map[string]string `koanf:"env"`
	WorkDir               string            `koanf:"work_dir"`
	InitializationOptions map[string]any    `koanf:"initialization_options"`
}

// ExtractorSettings is the configuration form of virtualdoc.ExtractorRule.
type ExtractorSettings struct {
	HostLanguage  string `koanf:"host_language"`
	Language      string `koanf:"language"`
	Pattern       string `koanf:"pattern"`
	CaptureGroups []int  `koanf:"capture_groups"`
	KeepInHost    bool   `koanf:"keep_in_host"`
	Standalone    bool   `koanf:"standalone"`
	FileExtension string `koanf:"file_extension"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	servers := make(map[string]ServerSettings)
	for lang, sc := range lsp.DefaultServerConfigs() {
		servers[lang] = ServerSettings{Command: sc.Command, Args: sc.Args}
	}
	return Settings{
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
		VirtualDocumentsDir: filepath.Join(os.TempDir(), "nblsp"),
		BlankLines:          virtualdoc.DefaultBlankLines,
		Connection: ConnectionSettings{
			Timeout:         30 * time.Second,
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			RequestTimeout:  10 * time.Second,
		},
		StatusTimeout: 5 * time.Second,
		Servers:       servers,
	}
}

// Validate checks values that cannot be fixed by falling back to defaults.
func (s Settings) Validate() error {
	if s.BlankLines < 0 {
		return fmt.Errorf("%w: blank_lines must not be negative", ErrInvalidSetting)
	}
	if s.VirtualDocumentsDir == "" {
		return fmt.Errorf("%w: virtual_documents_dir is required", ErrInvalidSetting)
	}
	for lang, srv := range s.Servers {
		if srv.Command == "" {
			return fmt.Errorf("%w: servers.%s.command is required", ErrInvalidSetting, lang)
		}
	}
	return nil
}

// ServerConfigs converts the server settings. Every server gets the
// connection request timeout.
func (s Settings) ServerConfigs() map[string]lsp.ServerConfig {
	return lo.MapValues(s.Servers, func(srv ServerSettings, _ string) lsp.ServerConfig {
		sc := lsp.ServerConfig{
			Command: srv.Command,
			Args:    srv.Args,
			Env:     srv.Env,
			WorkDir: srv.WorkDir,
			Timeout: s.Connection.RequestTimeout,
		}
		if len(srv.InitializationOptions) > 0 {
			sc.InitializationOptions = srv.InitializationOptions
		}
		return sc
	})
}

// ExtractorRules returns the configured rules, or the built-in ones when
// none are configured.
func (s Settings) ExtractorRules() []virtualdoc.ExtractorRule {
	if len(s.Extractors) == 0 {
		return virtualdoc.DefaultExtractorRules()
	}
	return lo.Map(s.Extractors, func(e ExtractorSettings, _ int) virtualdoc.ExtractorRule {
		return virtualdoc.ExtractorRule{
			HostLanguage:  e.HostLanguage,
			Language:      e.Language,
			Pattern:       e.Pattern,
			CaptureGroups: e.CaptureGroups,
			KeepInHost:    e.KeepInHost,
			Standalone:    e.Standalone,
			FileExtension: e.FileExtension,
		}
	})
}

// CompileExtractors compiles ExtractorRules.
func (s Settings) CompileExtractors() ([]*virtualdoc.Extractor, error) {
	extractors, err := virtualdoc.CompileExtractors(s.ExtractorRules())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSetting, err)
	}
	return extractors, nil
}
