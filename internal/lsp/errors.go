package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the connection layer.
var (
	// ErrShutdown indicates the connection manager has been shut down.
	ErrShutdown = errors.New("connection manager shut down")

	// ErrNoServer indicates no server is configured for the language.
	ErrNoServer = errors.New("no server configured for language")

	// ErrServerNotReady indicates the server is not ready to handle requests.
	ErrServerNotReady = errors.New("server not ready")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrDocumentNotOpen indicates the document was never opened on the server.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrServerCrashed indicates the server transport ended unexpectedly.
	ErrServerCrashed = errors.New("server crashed")

	// ErrInvalidRequest indicates a malformed connect request.
	ErrInvalidRequest = errors.New("invalid connect request")
)

// ServerError represents an error related to server lifecycle.
type ServerError struct {
	LanguageID string
	Err        error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %v", e.LanguageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}
