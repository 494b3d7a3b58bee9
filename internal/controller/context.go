package controller

import (
	"github.com/dshills/nblsp/internal/editor"
	"github.com/dshills/nblsp/internal/feature"
	"github.com/dshills/nblsp/internal/lsp"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

// Context describes what lies under an editor position: the innermost
// virtual document, the position inside it and, once connected, its
// connection and features.
type Context struct {
	Document   *virtualdoc.Document
	Position   virtualdoc.Position
	Connection *lsp.Connection
	Features   *feature.Bundle
}

// Connected reports whether the document has a live connection.
func (x Context) Connected() bool {
	return x.Connection != nil && x.Features != nil
}

// ContextAt resolves a buffer position.
func (c *Controller) ContextAt(pos editor.Position) (Context, bool) {
	m := c.Mapper()
	if m == nil {
		return Context{}, false
	}
	doc, vp, ok := m.RootToVirtual(pos)
	if !ok {
		return Context{}, false
	}
	return c.contextFor(doc, vp), true
}

// ContextAtPoint resolves a window coordinate using the hit tester.
func (c *Controller) ContextAtPoint(p editor.Point) (Context, bool) {
	m := c.Mapper()
	if m == nil {
		return Context{}, false
	}
	doc, vp, ok := m.WindowToVirtual(p)
	if !ok {
		return Context{}, false
	}
	return c.contextFor(doc, vp), true
}

func (c *Controller) contextFor(doc *virtualdoc.Document, pos virtualdoc.Position) Context {
	x := Context{Document: doc, Position: pos}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[doc.IDPath()]; ok && e.doc == doc {
		if st, ok := e.state.(connected); ok {
			x.Connection = st.conn
			x.Features = st.bundle
		}
	}
	return x
}
