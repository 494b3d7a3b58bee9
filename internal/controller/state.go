package controller

import (
	"context"

	"github.com/dshills/nblsp/internal/feature"
	"github.com/dshills/nblsp/internal/lsp"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

// Phase is the synchronization phase of one virtual document.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisposed
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// state is the tagged variant of a document's phase. Each variant carries
// only what is valid in that phase.
type state interface {
	phase() Phase
}

type uninitialized struct{}

type connecting struct {
	cancel context.CancelFunc
}

type connected struct {
	conn   *lsp.Connection
	bundle *feature.Bundle
}

type disposed struct{}

func (uninitialized) phase() Phase { return PhaseUninitialized }
func (connecting) phase() Phase    { return PhaseConnecting }
func (connected) phase() Phase     { return PhaseConnected }
func (disposed) phase() Phase      { return PhaseDisposed }

// entry is the controller's bookkeeping for one document. state is guarded
// by Controller.mu.
type entry struct {
	doc   *virtualdoc.Document
	state state
}
