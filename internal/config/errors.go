package config

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoaded indicates Settings was called before Load.
	ErrNotLoaded = errors.New("configuration not loaded")

	// ErrInvalidSetting indicates a setting has an unusable value.
	ErrInvalidSetting = errors.New("invalid setting")
)

// ParseError represents an error while loading one configuration layer.
type ParseError struct {
	// Layer names the source: defaults, user, project, environment or overrides.
	Layer string

	// Path is the file path for file layers.
	Path string

	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config %s layer %s: %v", e.Layer, e.Path, e.Err)
	}
	return fmt.Sprintf("config %s layer: %v", e.Layer, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}
