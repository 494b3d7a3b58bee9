package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/editor"
	"github.com/dshills/nblsp/internal/event"
	"github.com/dshills/nblsp/internal/feature"
	"github.com/dshills/nblsp/internal/lsp"
	"github.com/dshills/nblsp/internal/status"
	"github.com/dshills/nblsp/internal/update"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

var (
	// ErrAlreadyOpen indicates Open was called twice.
	ErrAlreadyOpen = errors.New("controller already open")

	// ErrDisposed indicates the controller was disposed.
	ErrDisposed = errors.New("controller disposed")
)

const defaultStatusTTL = 5 * time.Second

// Subscription groups in the controller registry that are not document IDs.
const (
	groupSurface = "surface"
	groupManager = "manager"
	groupTree    = "tree"
)

// Options configures a Controller.
type Options struct {
	// Surface is the editing surface to synchronize. Required.
	Surface editor.Surface

	// Connections is the surface's connection manager. Required; it is shut
	// down with the controller.
	Connections *lsp.Manager

	// Updates serializes tree recomputation; created when nil.
	Updates *update.Manager

	// Features builds the feature bundle of each connected document;
	// feature.DefaultRegistry when nil.
	Features *feature.Registry

	// HitTester resolves window coordinates; optional.
	HitTester editor.HitTester

	// Extractors find foreign code in documents.
	Extractors []*virtualdoc.Extractor

	// VirtualDir is the directory virtual document URIs point into.
	VirtualDir string

	// BlankLines separates cells in a document.
	BlankLines int

	// Status receives user-facing messages; created when nil.
	Status *status.Channel

	// StatusTTL is how long transient status messages stay (default 5s).
	StatusTTL time.Duration

	Logger *zap.Logger
}

// Controller keeps one editing surface synchronized with its language
// servers. It owns the surface's virtual document tree.
type Controller struct {
	surface    editor.Surface
	hits       editor.HitTester
	conns      *lsp.Manager
	updates    *update.Manager
	features   *feature.Registry
	status     *status.Channel
	ownStatus  bool
	statusTTL  time.Duration
	extractors []*virtualdoc.Extractor
	virtualDir string
	blankLines int
	logger     *zap.Logger

	// ctx is cancelled on Dispose; every asynchronous step derives from it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subs *event.Registry

	mu       sync.Mutex
	tree     *virtualdoc.Tree
	mapper   *virtualdoc.Mapper
	entries  map[string]*entry
	bundles  map[string]ownedBundle
	opened   bool
	disposed bool
}

// ownedBundle ties a bundle to the connection it was built for.
type ownedBundle struct {
	conn   *lsp.Connection
	bundle *feature.Bundle
}

// New creates a controller. Call Open to start synchronizing.
func New(opts Options) (*Controller, error) {
	if opts.Surface == nil {
		return nil, errors.New("controller: surface is required")
	}
	if opts.Connections == nil {
		return nil, errors.New("controller: connection manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("controller")

	if opts.Updates == nil {
		opts.Updates = update.New(nil, update.WithLogger(opts.Logger))
	}
	if opts.Features == nil {
		opts.Features = feature.DefaultRegistry()
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = defaultStatusTTL
	}
	ownStatus := opts.Status == nil
	if ownStatus {
		opts.Status = status.NewChannel(opts.StatusTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		surface:    opts.Surface,
		hits:       opts.HitTester,
		conns:      opts.Connections,
		updates:    opts.Updates,
		features:   opts.Features,
		status:     opts.Status,
		ownStatus:  ownStatus,
		statusTTL:  opts.StatusTTL,
		extractors: opts.Extractors,
		virtualDir: opts.VirtualDir,
		blankLines: opts.BlankLines,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		subs:       event.NewRegistry(),
		entries:    make(map[string]*entry),
		bundles:    make(map[string]ownedBundle),
	}, nil
}

// Open subscribes to the surface, builds the tree and starts connecting the
// host document. Foreign documents are connected as they are discovered.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.disposed:
		c.mu.Unlock()
		return ErrDisposed
	case c.opened:
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.mu.Unlock()

	c.subs.Add(groupSurface, c.surface.Subscribe(c.onSurfaceEvent))
	c.subs.Add(groupManager,
		c.conns.Closed.Connect(c.onConnectionClosed),
		c.conns.Messages.Connect(c.onServerMessage),
	)

	c.logger.Info("opening surface",
		zap.String("path", c.surface.Path()),
		zap.String("language", c.surface.Language()))
	return c.rebuild(ctx)
}

// Dispose tears everything down: pending work, feature bundles, document
// subscriptions, the tree and the connection manager.
// Safe to call multiple times (idempotent).
func (c *Controller) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	c.mu.Unlock()

	c.cancel()
	var errs []error
	if err := c.updates.Dispose(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispose updates: %w", err))
	}

	c.mu.Lock()
	tree := c.tree
	entries := c.entries
	bundles := c.bundles
	c.tree, c.mapper = nil, nil
	c.entries = make(map[string]*entry)
	c.bundles = make(map[string]ownedBundle)
	for _, e := range entries {
		e.state = disposed{}
	}
	c.mu.Unlock()

	for _, b := range bundles {
		b.bundle.Dispose()
	}
	c.subs.Close()
	if tree != nil {
		tree.Dispose()
	}

	c.wg.Wait()
	if err := c.conns.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown connections: %w", err))
	}
	if c.ownStatus {
		c.status.Close()
	}

	c.logger.Info("disposed", zap.String("path", c.surface.Path()))
	return errors.Join(errs...)
}

// IsDisposed reports whether Dispose was called.
func (c *Controller) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Tree returns the current virtual document tree.
func (c *Controller) Tree() *virtualdoc.Tree {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree
}

// Mapper returns a position mapper for the current tree.
func (c *Controller) Mapper() *virtualdoc.Mapper {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapper
}

// Status returns the status message channel.
func (c *Controller) Status() *status.Channel {
	return c.status
}

// Phase returns the phase of the document with the given ID path. Unknown
// documents report PhaseDisposed.
func (c *Controller) Phase(idPath string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[idPath]; ok {
		return e.state.phase()
	}
	return PhaseDisposed
}

// Connection returns the connection of a connected document.
func (c *Controller) Connection(idPath string) (*lsp.Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[idPath]; ok {
		if st, ok := e.state.(connected); ok {
			return st.conn, true
		}
	}
	return nil, false
}

// Bundle returns the feature bundle of a connected document.
func (c *Controller) Bundle(idPath string) (*feature.Bundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[idPath]; ok {
		if st, ok := e.state.(connected); ok {
			return st.bundle, true
		}
	}
	return nil, false
}

// Documents returns the ID paths of the documents being synchronized.
func (c *Controller) Documents() []string {
	c.mu.Lock()
	tree := c.tree
	c.mu.Unlock()
	if tree == nil {
		return nil
	}
	docs := tree.Documents()
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.IDPath()
	}
	return ids
}

func (c *Controller) onSurfaceEvent(ev editor.Event) {
	if c.IsDisposed() {
		return
	}
	c.logger.Debug("surface event", zap.String("event", editor.EventName(ev)))

	switch ev := ev.(type) {
	case editor.ContentChanged:
		if err := c.updates.Update(c.ctx, c.surface.Buffers()); err != nil {
			c.logger.Warn("update failed", zap.Error(err))
		}
	case editor.SaveStateChanged:
		if ev.State == editor.SaveCompleted {
			c.saveAll()
		}
	case editor.PathChanged, editor.LanguageChanged, editor.Reloaded:
		if err := c.rebuild(c.ctx); err != nil && !c.IsDisposed() {
			c.logger.Warn("rebuild failed", zap.Error(err))
		}
	case editor.Disposed:
		if err := c.Dispose(context.Background()); err != nil {
			c.logger.Warn("dispose failed", zap.Error(err))
		}
	}
}

func (c *Controller) onServerMessage(m lsp.Message) {
	if !m.Show {
		return
	}
	ttl := c.statusTTL
	if m.Type == protocol.MessageTypeError {
		ttl = -1
	}
	c.status.Set(fmt.Sprintf("%s: %s", m.Language, m.Text), ttl)
}
