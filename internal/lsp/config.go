package lsp

import (
	"os/exec"
	"time"
)

// ServerConfig defines how to start a language server.
type ServerConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the working directory and workspace root.
	WorkDir string

	// InitializationOptions are sent during initialize.
	InitializationOptions any

	// Timeout bounds the initialize handshake and each notification (default: 10s).
	Timeout time.Duration
}

const defaultRequestTimeout = 10 * time.Second

// DefaultServerConfigs returns default configurations for the languages
// commonly found in notebooks.
func DefaultServerConfigs() map[string]ServerConfig {
	return map[string]ServerConfig{
		"python": {
			Command: "pylsp",
		},
		"r": {
			Command: "R",
			Args:    []string{"--slave", "-e", "languageserver::run()"},
		},
		"javascript": {
			Command: "typescript-language-server",
			Args:    []string{"--stdio"},
		},
		"typescript": {
			Command: "typescript-language-server",
			Args:    []string{"--stdio"},
		},
		"html": {
			Command: "vscode-html-language-server",
			Args:    []string{"--stdio"},
		},
		"shellscript": {
			Command: "bash-language-server",
			Args:    []string{"start"},
		},
		"sql": {
			Command: "sql-language-server",
			Args:    []string{"up", "--method", "stdio"},
		},
		"markdown": {
			Command: "marksman",
			Args:    []string{"server"},
		},
	}
}

// AvailableServers filters configs to those whose command is installed.
func AvailableServers(configs map[string]ServerConfig) map[string]ServerConfig {
	available := make(map[string]ServerConfig)
	for lang, config := range configs {
		if _, err := exec.LookPath(config.Command); err == nil {
			available[lang] = config
		}
	}
	return available
}
