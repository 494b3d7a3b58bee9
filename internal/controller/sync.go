package controller

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/feature"
	"github.com/dshills/nblsp/internal/lsp"
	"github.com/dshills/nblsp/internal/update"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

// errStale aborts work for a document that was replaced or disposed while
// the work was suspended.
var errStale = errors.New("document no longer current")

// rebuild replaces the tree with a new one for the surface's current path
// and language, then updates it. Every connection of the old tree is torn
// down; none is reused.
func (c *Controller) rebuild(ctx context.Context) error {
	err := c.updates.WithUpdateLock(ctx, func() error {
		if c.IsDisposed() {
			return ErrDisposed
		}
		c.teardownTree(ctx)

		tree := virtualdoc.NewTree(virtualdoc.TreeOptions{
			Path:          c.surface.Path(),
			Language:      c.surface.Language(),
			FileExtension: c.surface.FileExtension(),
			VirtualDir:    c.virtualDir,
			BlankLines:    c.blankLines,
			Extractors:    c.extractors,
			Logger:        c.logger,
		})
		c.updates.SetRoot(tree)

		c.mu.Lock()
		c.tree = tree
		c.mapper = virtualdoc.NewMapper(tree.Root(), c.hits)
		c.mu.Unlock()

		// Controller handlers go first so a document's bookkeeping is gone
		// before the manager closes its connection.
		c.attach(tree.Root())
		c.subs.Add(groupTree, c.conns.TrackDocument(tree.Root()))

		c.logger.Debug("tree built", zap.String("host", tree.Root().IDPath()))
		return nil
	})
	if err != nil {
		return err
	}
	return c.updates.Update(ctx, c.surface.Buffers())
}

// teardownTree detaches and disconnects every document of the current tree
// and disposes it. It runs under the update lock.
func (c *Controller) teardownTree(ctx context.Context) {
	c.mu.Lock()
	tree := c.tree
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.tree, c.mapper = nil, nil
	c.mu.Unlock()

	if tree == nil {
		return
	}

	c.subs.CancelGroup(groupTree)
	var conns []*lsp.Connection
	for id, e := range entries {
		c.subs.CancelGroup(id)
		c.mu.Lock()
		switch st := e.state.(type) {
		case connecting:
			st.cancel()
		case connected:
			conns = append(conns, st.conn)
		}
		e.state = disposed{}
		c.mu.Unlock()
	}

	// Closed broadcasts dispose the bundles.
	for _, conn := range conns {
		c.conns.Disconnect(ctx, conn)
	}
	tree.Dispose()
	c.logger.Debug("tree torn down", zap.String("path", tree.Path()))
}

// attach starts tracking doc and its existing descendants.
func (c *Controller) attach(doc *virtualdoc.Document) {
	id := doc.IDPath()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	e := &entry{doc: doc, state: uninitialized{}}
	c.entries[id] = e
	c.mu.Unlock()

	c.subs.Add(id,
		doc.Changed.Connect(c.onChanged),
		doc.ForeignOpened.Connect(c.onForeignOpened),
		doc.ForeignClosed.Connect(c.onForeignClosed),
	)
	c.startConnecting(e)

	for _, child := range doc.Children() {
		c.attach(child)
	}
}

// detach forgets doc and its descendants. Their connections are torn down by
// the connection manager.
func (c *Controller) detach(doc *virtualdoc.Document) {
	id := doc.IDPath()
	c.subs.CancelGroup(id)

	c.mu.Lock()
	e, ok := c.entries[id]
	if ok && e.doc == doc {
		if st, ok := e.state.(connecting); ok {
			st.cancel()
		}
		e.state = disposed{}
		delete(c.entries, id)
	}
	c.mu.Unlock()

	for _, child := range doc.Children() {
		c.detach(child)
	}
}

func (c *Controller) startConnecting(e *entry) {
	ctx, cancel := context.WithCancel(c.ctx)

	c.mu.Lock()
	if _, ok := e.state.(uninitialized); !ok || c.disposed {
		c.mu.Unlock()
		cancel()
		return
	}
	e.state = connecting{cancel: cancel}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.connect(ctx, e)
}

// connect acquires a connection for e, sends the initial full text and
// builds the feature bundle. Failures leave the document connecting.
func (c *Controller) connect(ctx context.Context, e *entry) {
	defer c.wg.Done()

	doc := e.doc
	logger := c.logger.With(zap.String("document", doc.IDPath()), zap.String("language", doc.Language()))

	conn, err := c.conns.Connect(ctx, lsp.ConnectRequest{
		IDPath:   doc.IDPath(),
		URI:      doc.URI(),
		Language: doc.Language(),
	})
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("language server unavailable", zap.Error(err))
			if errors.Is(err, lsp.ErrNoServer) {
				logger.Debug("no server configured")
			} else {
				c.status.Set(fmt.Sprintf("%s language server unavailable", doc.Language()), 0)
			}
		}
		return
	}
	if !c.isConnecting(e) {
		c.conns.Disconnect(context.Background(), conn)
		return
	}

	// Bring the tree up to date so the first text sent is the latest.
	if err := c.updates.Update(ctx, c.surface.Buffers()); err != nil {
		logger.Warn("update before initial synchronization failed", zap.Error(err))
	}

	err = c.updates.WithUpdateLock(ctx, func() error {
		if !c.isConnecting(e) {
			return errStale
		}
		text, info := doc.Snapshot()
		if err := conn.SendFullTextChange(ctx, text, info); err != nil {
			return fmt.Errorf("initial synchronization: %w", err)
		}

		bundle := c.features.Build(feature.Context{
			Document:   doc,
			Connection: conn,
			Mapper:     c.Mapper(),
			Logger:     c.logger,
		})

		c.mu.Lock()
		e.state = connected{conn: conn, bundle: bundle}
		c.bundles[doc.IDPath()] = ownedBundle{conn: conn, bundle: bundle}
		c.mu.Unlock()
		return nil
	})

	switch {
	case err == nil:
		logger.Info("document connected", zap.Int32("version", doc.Version()))
	case errors.Is(err, errStale), errors.Is(err, update.ErrDisposed), ctx.Err() != nil:
		c.conns.Disconnect(context.Background(), conn)
	default:
		logger.Warn("connecting document failed", zap.Error(err))
		c.conns.Disconnect(context.Background(), conn)
	}
}

// isConnecting reports whether e is still tracked and waiting for its
// connection.
func (c *Controller) isConnecting(e *entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.entries[e.doc.IDPath()] != e {
		return false
	}
	_, ok := e.state.(connecting)
	return ok
}

// onChanged sends the new value of a connected document. It runs on the
// updating goroutine inside the update lock.
func (c *Controller) onChanged(doc *virtualdoc.Document) {
	c.mu.Lock()
	e, ok := c.entries[doc.IDPath()]
	var st connected
	isConnected := false
	if ok && e.doc == doc {
		st, isConnected = e.state.(connected)
	}
	c.mu.Unlock()

	if !isConnected || st.bundle == nil || !st.conn.IsReady() {
		c.logger.Debug("skipping document update",
			zap.String("document", doc.IDPath()),
			zap.Bool("connected", isConnected))
		return
	}

	text, info := doc.Snapshot()
	if err := st.conn.SendFullTextChange(c.ctx, text, info); err != nil {
		c.logger.Debug("skipping document update", zap.String("document", doc.IDPath()), zap.Error(err))
		return
	}

	c.wg.Add(1)
	go c.afterChange(e, st, feature.Change{Document: doc, Text: text, Info: info})
}

// afterChange runs the features of a sent change once the running update
// has finished.
func (c *Controller) afterChange(e *entry, st connected, change feature.Change) {
	defer c.wg.Done()

	err := c.updates.WithUpdateLock(c.ctx, func() error {
		c.mu.Lock()
		current, ok := e.state.(connected)
		c.mu.Unlock()
		if !ok || current.bundle != st.bundle {
			return nil
		}
		return st.bundle.AfterChange(c.ctx, change)
	})
	if err != nil && !errors.Is(err, update.ErrDisposed) && !errors.Is(err, context.Canceled) {
		c.logger.Warn("feature refresh failed", zap.String("document", change.Document.IDPath()), zap.Error(err))
	}
}

func (c *Controller) onForeignOpened(doc *virtualdoc.Document) {
	c.logger.Debug("foreign document opened", zap.String("document", doc.IDPath()))
	c.attach(doc)
}

func (c *Controller) onForeignClosed(doc *virtualdoc.Document) {
	c.logger.Debug("foreign document closed", zap.String("document", doc.IDPath()))
	c.detach(doc)
}

// onConnectionClosed disposes the bundle built for conn. It runs while the
// connection manager blocks registration for the document.
func (c *Controller) onConnectionClosed(conn *lsp.Connection) {
	id := conn.IDPath()

	c.mu.Lock()
	owned, ok := c.bundles[id]
	if ok && owned.conn == conn {
		delete(c.bundles, id)
	} else {
		ok = false
	}
	if e, tracked := c.entries[id]; tracked {
		if st, isConnected := e.state.(connected); isConnected && st.conn == conn {
			// The connection went away under a live document.
			e.state = uninitialized{}
		}
	}
	c.mu.Unlock()

	if ok {
		owned.bundle.Dispose()
	}
}

// saveAll sends didSave for every connected document.
func (c *Controller) saveAll() {
	c.mu.Lock()
	var targets []connected
	var docs []*virtualdoc.Document
	for _, e := range c.entries {
		if st, ok := e.state.(connected); ok {
			targets = append(targets, st)
			docs = append(docs, e.doc)
		}
	}
	c.mu.Unlock()

	for i, st := range targets {
		if err := st.conn.SendSaved(c.ctx, docs[i].Value()); err != nil {
			c.logger.Debug("skipping save notification",
				zap.String("document", docs[i].IDPath()),
				zap.Error(err))
		}
	}
}

// Update recomputes the tree from the surface's buffers.
func (c *Controller) Update(ctx context.Context) error {
	if c.IsDisposed() {
		return ErrDisposed
	}
	return c.updates.Update(ctx, c.surface.Buffers())
}

// Save sends didSave for every connected document, as a completed save of
// the surface does.
func (c *Controller) Save() {
	if !c.IsDisposed() {
		c.saveAll()
	}
}
