// Package feature hosts per-document integrations that run on top of a
// synchronized connection, such as diagnostics.
package feature

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/lsp"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

// ErrDuplicateFeature indicates a feature name was registered twice.
var ErrDuplicateFeature = errors.New("feature already registered")

// Change is a document revision that was sent to the server.
type Change struct {
	Document *virtualdoc.Document
	Text     string
	Info     virtualdoc.DocumentInfo
}

// Context is what a feature is built from.
type Context struct {
	Document   *virtualdoc.Document
	Connection *lsp.Connection
	Mapper     *virtualdoc.Mapper
	Logger     *zap.Logger
}

// Feature is one integration bound to one document.
type Feature interface {
	// Name identifies the feature within a bundle.
	Name() string

	// AfterChange runs after a change was sent, under the update lock.
	AfterChange(ctx context.Context, change Change) error

	// Dispose releases the feature. It is called exactly once.
	Dispose()
}

// Factory builds a feature for one document.
type Factory func(fc Context) (Feature, error)
