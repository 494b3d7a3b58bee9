// Package version reports build information.
package version

import (
	"runtime"
	"runtime/debug"
)

// Set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
	Protocol  string `json:"protocol,omitempty"`
}

// Version returns the current version string.
func Version() string {
	return version
}

// ProtocolVersion returns the linked go.lsp.dev/protocol version from build info.
func ProtocolVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, dep := range info.Deps {
		if dep.Path == "go.lsp.dev/protocol" {
			return dep.Version
		}
	}
	return ""
}

// GetInfo returns the full build information.
func GetInfo() Info {
	return Info{
		Version:   version,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
		Protocol:  ProtocolVersion(),
	}
}
