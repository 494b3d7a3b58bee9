package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/event"
)

// SessionStatus indicates the current state of a session.
type SessionStatus int32

const (
	SessionStatusStarting SessionStatus = iota
	SessionStatusInitializing
	SessionStatusReady
	SessionStatusShuttingDown
	SessionStatusStopped
	SessionStatusError
)

// String returns a human-readable status name.
func (s SessionStatus) String() string {
	switch s {
	case SessionStatusStarting:
		return "starting"
	case SessionStatusInitializing:
		return "initializing"
	case SessionStatusReady:
		return "ready"
	case SessionStatusShuttingDown:
		return "shutting down"
	case SessionStatusStopped:
		return "stopped"
	case SessionStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ClientName is reported to servers in the initialize request.
const ClientName = "nblsp"

// ClientVersion is reported to servers in the initialize request.
var ClientVersion = "dev"

const shutdownTimeout = 5 * time.Second

// Message is a window/logMessage or window/showMessage notification.
type Message struct {
	Language string
	Type     protocol.MessageType
	Text     string

	// Show is true for showMessage, which asks for user attention.
	Show bool
}

// Session is one initialized JSON-RPC session with a language server.
// Sessions are shared by every connection of the same language.
type Session struct {
	id       string
	language string
	config   ServerConfig
	conn     jsonrpc2.Conn
	logger   *zap.Logger

	status atomic.Int32

	mu           sync.RWMutex
	capabilities protocol.ServerCapabilities
	serverInfo   *protocol.ServerInfo

	shutdownOnce sync.Once
	shutdownErr  error

	// Diagnostics fires for every textDocument/publishDiagnostics.
	Diagnostics *event.Signal[*protocol.PublishDiagnosticsParams]

	// Messages fires for log and show message notifications.
	Messages *event.Signal[Message]
}

// StartSession dials the server and performs the initialize handshake.
func StartSession(ctx context.Context, dialer Dialer, language string, config ServerConfig, logger *zap.Logger) (*Session, error) {
	if config.Timeout == 0 {
		config.Timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	s := &Session{
		id:          id,
		language:    language,
		config:      config,
		logger:      logger.With(zap.String("language", language), zap.String("session", id)),
		Diagnostics: event.NewSignal[*protocol.PublishDiagnosticsParams](language + ":diagnostics"),
		Messages:    event.NewSignal[Message](language + ":messages"),
	}
	s.status.Store(int32(SessionStatusStarting))

	rwc, err := dialer.Dial(ctx, language, config)
	if err != nil {
		s.status.Store(int32(SessionStatusError))
		return nil, fmt.Errorf("dial: %w", err)
	}

	s.conn = jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	s.conn.Go(context.Background(), jsonrpc2.ReplyHandler(s.handle))
	go s.monitor()

	s.status.Store(int32(SessionStatusInitializing))
	if err := s.initialize(ctx); err != nil {
		s.status.Store(int32(SessionStatusError))
		_ = s.conn.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	s.status.Store(int32(SessionStatusReady))
	s.logger.Info("session ready", zap.String("server", s.ServerName()))
	return s, nil
}

// initialize performs the LSP initialize handshake.
func (s *Session) initialize(ctx context.Context) error {
	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    ClientName,
			Version: ClientVersion,
		},
		InitializationOptions: s.config.InitializationOptions,
	}
	if s.config.WorkDir != "" {
		params.RootURI = protocol.DocumentURI(uri.File(s.config.WorkDir))
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result protocol.InitializeResult
	if _, err := s.conn.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	s.mu.Lock()
	s.capabilities = result.Capabilities
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	if err := s.conn.Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// monitor marks the session failed when the transport ends unexpectedly.
func (s *Session) monitor() {
	<-s.conn.Done()
	for {
		cur := SessionStatus(s.status.Load())
		if cur == SessionStatusShuttingDown || cur == SessionStatusStopped || cur == SessionStatusError {
			return
		}
		if s.status.CompareAndSwap(int32(cur), int32(SessionStatusError)) {
			s.logger.Warn("server connection lost", zap.Error(s.conn.Err()))
			return
		}
	}
}

// handle serves server-to-client messages.
func (s *Session) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch req.Method() {
	case protocol.MethodTextDocumentPublishDiagnostics:
		var params protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			s.logger.Warn("malformed diagnostics", zap.Error(err))
			return reply(ctx, nil, nil)
		}
		s.Diagnostics.Emit(&params)
		return reply(ctx, nil, nil)

	case protocol.MethodWindowLogMessage:
		var params protocol.LogMessageParams
		if err := json.Unmarshal(req.Params(), &params); err == nil {
			s.message(Message{Language: s.language, Type: params.Type, Text: params.Message})
		}
		return reply(ctx, nil, nil)

	case protocol.MethodWindowShowMessage:
		var params protocol.ShowMessageParams
		if err := json.Unmarshal(req.Params(), &params); err == nil {
			s.message(Message{Language: s.language, Type: params.Type, Text: params.Message, Show: true})
		}
		return reply(ctx, nil, nil)

	default:
		// Server requests this client has no handler for (workspace/configuration,
		// client/registerCapability, ...) get a null result.
		s.logger.Debug("unhandled server message", zap.String("method", req.Method()))
		return reply(ctx, nil, nil)
	}
}

func (s *Session) message(m Message) {
	switch m.Type {
	case protocol.MessageTypeError:
		s.logger.Error("server message", zap.String("text", m.Text))
	case protocol.MessageTypeWarning:
		s.logger.Warn("server message", zap.String("text", m.Text))
	default:
		s.logger.Debug("server message", zap.String("text", m.Text))
	}
	s.Messages.Emit(m)
}

// Notify sends a notification if the session is ready.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	if !s.IsReady() {
		return ErrServerNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := s.conn.Notify(ctx, method, params); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Shutdown sends shutdown and exit, then closes the transport.
// Safe to call multiple times (idempotent).
func (s *Session) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		prev := SessionStatus(s.status.Swap(int32(SessionStatusShuttingDown)))

		if prev == SessionStatusReady {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if _, err := s.conn.Call(shutdownCtx, protocol.MethodShutdown, nil, nil); err != nil {
				s.shutdownErr = &ServerError{LanguageID: s.language, Err: err}
			} else {
				_ = s.conn.Notify(shutdownCtx, protocol.MethodExit, nil)
			}
		}

		if err := s.conn.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.shutdownErr == nil {
			s.logger.Debug("close transport", zap.Error(err))
		}
		s.status.Store(int32(SessionStatusStopped))
		s.Diagnostics.DisconnectAll()
		s.Messages.DisconnectAll()
		s.logger.Info("session stopped")
	})
	return s.shutdownErr
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Language returns the language the session serves.
func (s *Session) Language() string { return s.language }

// Status returns the current session status.
func (s *Session) Status() SessionStatus {
	return SessionStatus(s.status.Load())
}

// IsReady reports whether notifications can be sent.
func (s *Session) IsReady() bool {
	return s.Status() == SessionStatusReady
}

// Done is closed when the transport ends.
func (s *Session) Done() <-chan struct{} {
	return s.conn.Done()
}

// Capabilities returns the capabilities announced by the server.
func (s *Session) Capabilities() protocol.ServerCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capabilities
}

// ServerName returns the name the server reported, if any.
func (s *Session) ServerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.serverInfo == nil {
		return ""
	}
	return s.serverInfo.Name
}
