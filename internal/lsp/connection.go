package lsp

import (
	"context"
	"sync"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/virtualdoc"
)

// fullTextChange is a content change without a range, which replaces the
// whole document. protocol.TextDocumentContentChangeEvent always serializes
// its range.
type fullTextChange struct {
	Text string `json:"text"`
}

type didChangeParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []fullTextChange                         `json:"contentChanges"`
}

// Connection binds one virtual document to the session of its language.
type Connection struct {
	idPath   string
	language string
	uri      uri.URI
	session  *Session
	logger   *zap.Logger

	mu      sync.Mutex
	opened  bool
	version int32
	closed  bool
}

func newConnection(idPath, language string, u uri.URI, session *Session, logger *zap.Logger) *Connection {
	return &Connection{
		idPath:   idPath,
		language: language,
		uri:      u,
		session:  session,
		logger:   logger.With(zap.String("document", idPath)),
	}
}

// IDPath returns the virtual document the connection serves.
func (c *Connection) IDPath() string { return c.idPath }

// Language returns the document language.
func (c *Connection) Language() string { return c.language }

// URI returns the document URI known to the server.
func (c *Connection) URI() uri.URI { return c.uri }

// Session returns the shared session of the document's language.
func (c *Connection) Session() *Session { return c.session }

// IsReady reports whether the session is ready and the connection open.
func (c *Connection) IsReady() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.session.IsReady()
}

// IsOpen reports whether didOpen was sent and didClose was not.
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened && !c.closed
}

// IsClosed reports whether Close was called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SendFullTextChange synchronizes the whole text of the document. The first
// call sends didOpen, later calls didChange. Versions not newer than the last
// one sent are skipped.
func (c *Connection) SendFullTextChange(ctx context.Context, text string, info virtualdoc.DocumentInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if !c.session.IsReady() {
		c.logger.Debug("skipping document update", zap.String("reason", "server not ready"))
		return ErrServerNotReady
	}

	docURI := protocol.DocumentURI(c.uri)
	if !c.opened {
		params := &protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        docURI,
				LanguageID: protocol.LanguageIdentifier(info.LanguageID),
				Version:    info.Version,
				Text:       text,
			},
		}
		if err := c.session.Notify(ctx, protocol.MethodTextDocumentDidOpen, params); err != nil {
			return err
		}
		c.opened = true
		c.version = info.Version
		return nil
	}

	if info.Version <= c.version {
		c.logger.Debug("skipping stale document version",
			zap.Int32("version", info.Version),
			zap.Int32("sent", c.version))
		return nil
	}

	params := &didChangeParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: docURI},
			Version:                info.Version,
		},
		ContentChanges: []fullTextChange{{Text: text}},
	}
	if err := c.session.Notify(ctx, protocol.MethodTextDocumentDidChange, params); err != nil {
		return err
	}
	c.version = info.Version
	return nil
}

// SendSaved notifies the server that the document was saved.
func (c *Connection) SendSaved(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if !c.opened {
		return ErrDocumentNotOpen
	}
	params := &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(c.uri)},
		Text:         text,
	}
	return c.session.Notify(ctx, protocol.MethodTextDocumentDidSave, params)
}

// Close sends didClose if the document was opened. A closed connection never
// sends again. Safe to call multiple times (idempotent).
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if !c.opened || !c.session.IsReady() {
		return nil
	}

	params := &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(c.uri)},
	}
	if err := c.session.Notify(ctx, protocol.MethodTextDocumentDidClose, params); err != nil {
		c.logger.Debug("didClose failed", zap.Error(err))
		return err
	}
	return nil
}

// LastVersion returns the last version sent to the server.
func (c *Connection) LastVersion() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}
