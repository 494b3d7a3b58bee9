package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "NBLSP_"

const (
	userSettingsFile    = "config.toml"
	projectSettingsFile = ".nblsp.toml"
)

// Config loads settings from layered sources. Later layers override earlier
// ones: built-in defaults, user settings, project settings, environment
// variables and explicit overrides.
type Config struct {
	mu sync.RWMutex

	k        *koanf.Koanf
	settings *Settings

	userConfigDir    string
	projectConfigDir string
	configFile       string
	overrides        map[string]any
	envMapping       map[string]string
}

// Option configures a Config instance.
type Option func(*Config)

// WithUserConfigDir sets the user configuration directory.
func WithUserConfigDir(dir string) Option {
	return func(c *Config) {
		c.userConfigDir = dir
	}
}

// WithProjectConfigDir sets the directory searched for .nblsp.toml.
func WithProjectConfigDir(dir string) Option {
	return func(c *Config) {
		c.projectConfigDir = dir
	}
}

// WithFile loads an explicit settings file after the project settings. A
// missing explicit file is an error.
func WithFile(path string) Option {
	return func(c *Config) {
		c.configFile = path
	}
}

// WithOverrides applies dotted-key values last, such as flags given on the
// command line.
func WithOverrides(values map[string]any) Option {
	return func(c *Config) {
		c.overrides = values
	}
}

// New creates a new Config instance with the given options.
func New(opts ...Option) *Config {
	c := &Config{
		envMapping: defaultEnvMapping(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.userConfigDir == "" {
		c.userConfigDir = defaultUserConfigDir()
	}
	return c
}

// defaultEnvMapping maps environment variables to setting keys whose names
// contain underscores.
func defaultEnvMapping() map[string]string {
	return map[string]string{
		"NBLSP_LOG_LEVEL":       "log.level",
		"NBLSP_LOG_FORMAT":      "log.format",
		"NBLSP_LOG_FILE":        "log.file",
		"NBLSP_VIRTUAL_DIR":     "virtual_documents_dir",
		"NBLSP_BLANK_LINES":     "blank_lines",
		"NBLSP_CONNECT_TIMEOUT": "connection.timeout",
		"NBLSP_MAX_RETRIES":     "connection.max_retries",
		"NBLSP_RETRY_INTERVAL":  "connection.initial_interval",
		"NBLSP_REQUEST_TIMEOUT": "connection.request_timeout",
		"NBLSP_STATUS_TIMEOUT":  "status_timeout",
	}
}

// Load reads every layer and decodes the result. It may be called again to
// pick up changed files.
func (c *Config) Load(_ context.Context) error {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return &ParseError{Layer: "defaults", Err: err}
	}
	if err := loadFile(k, "user", filepath.Join(c.userConfigDir, userSettingsFile), false); err != nil {
		return err
	}
	if c.projectConfigDir != "" {
		if err := loadFile(k, "project", filepath.Join(c.projectConfigDir, projectSettingsFile), false); err != nil {
			return err
		}
	}
	if c.configFile != "" {
		if err := loadFile(k, "file", c.configFile, true); err != nil {
			return err
		}
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: c.envKey,
	}), nil); err != nil {
		return &ParseError{Layer: "environment", Err: err}
	}
	if len(c.overrides) > 0 {
		if err := k.Load(confmap.Provider(c.overrides, "."), nil); err != nil {
			return &ParseError{Layer: "overrides", Err: err}
		}
	}

	var s Settings
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.k = k
	c.settings = &s
	c.mu.Unlock()
	return nil
}

// loadFile merges a TOML file. Missing optional files are skipped.
func loadFile(k *koanf.Koanf, layer, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return &ParseError{Layer: layer, Path: path, Err: err}
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return &ParseError{Layer: layer, Path: path, Err: err}
	}
	return nil
}

// envKey turns NBLSP_* variables into setting keys. Mapped variables win;
// otherwise a double underscore separates path segments, as in
// NBLSP_SERVERS__PYTHON__COMMAND.
func (c *Config) envKey(name, value string) (string, any) {
	if key, ok := c.envMapping[name]; ok {
		return key, value
	}
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if !strings.Contains(key, "__") {
		return "", nil
	}
	return strings.ReplaceAll(key, "__", "."), value
}

// Settings returns the decoded settings.
func (c *Config) Settings() (Settings, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.settings == nil {
		return Settings{}, ErrNotLoaded
	}
	return *c.settings, nil
}

// Get returns the raw merged value at a dotted path.
func (c *Config) Get(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.k == nil || !c.k.Exists(path) {
		return nil, false
	}
	return c.k.Get(path), true
}

// Merged returns the merged configuration as a nested map.
func (c *Config) Merged() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.k == nil {
		return nil
	}
	return c.k.Raw()
}

// UserConfigDir returns the directory user settings are read from.
func (c *Config) UserConfigDir() string {
	return c.userConfigDir
}

// defaultUserConfigDir returns the default user configuration directory.
func defaultUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nblsp")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "nblsp")
}
