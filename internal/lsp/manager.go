package lsp

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/samber/lo"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/nblsp/internal/event"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

const (
	defaultMaxRetries      = 3
	defaultInitialInterval = 200 * time.Millisecond
	defaultConnectTimeout  = 30 * time.Second
)

// ConnectRequest identifies the document a connection is requested for.
type ConnectRequest struct {
	IDPath   string
	URI      uri.URI
	Language string
}

// pendingSession is a session start shared by concurrent Connect calls.
type pendingSession struct {
	done    chan struct{}
	session *Session
	err     error
}

// Manager multiplexes virtual documents onto one session per language.
// It keeps at most one connection per document ID path.
type Manager struct {
	mu       sync.Mutex
	configs  map[string]ServerConfig
	sessions map[string]*Session
	pending  map[string]*pendingSession
	conns    map[string]*Connection
	closed   bool

	// slotMu serializes registration and teardown so a document's old
	// connection is fully closed before its ID path is reused.
	slotMu sync.Mutex

	// starts tracks session start goroutines; base cancels them on shutdown.
	starts sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc

	dialer          Dialer
	maxRetries      uint
	initialInterval time.Duration
	connectTimeout  time.Duration
	requestTimeout  time.Duration
	logger          *zap.Logger

	// Closed fires after a connection was closed and unregistered. Handlers
	// run while registration is blocked and must not call back into the
	// manager synchronously.
	Closed *event.Signal[*Connection]

	// Messages forwards log and show messages of every session.
	Messages *event.Signal[Message]
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDialer replaces the process dialer, e.g. for in-process servers.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithServers sets the server configuration per language.
func WithServers(configs map[string]ServerConfig) ManagerOption {
	return func(m *Manager) {
		for lang, cfg := range configs {
			m.configs[lang] = cfg
		}
	}
}

// WithRetry sets how often a failed session start is retried and the first
// backoff interval.
func WithRetry(maxRetries uint, initialInterval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maxRetries = maxRetries
		if initialInterval > 0 {
			m.initialInterval = initialInterval
		}
	}
}

// WithConnectTimeout bounds a whole session start including retries.
func WithConnectTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithRequestTimeout sets the default timeout for requests and
// notifications of servers that do not configure their own.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.requestTimeout = d
		}
	}
}

// NewManager creates a connection manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		configs:         make(map[string]ServerConfig),
		sessions:        make(map[string]*Session),
		pending:         make(map[string]*pendingSession),
		conns:           make(map[string]*Connection),
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
		connectTimeout:  defaultConnectTimeout,
		requestTimeout:  defaultRequestTimeout,
		logger:          zap.NewNop(),
		Closed:          event.NewSignal[*Connection]("lsp:closed"),
		Messages:        event.NewSignal[Message]("lsp:messages"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("lsp")
	if m.dialer == nil {
		m.dialer = ProcessDialer{Logger: m.logger}
	}
	m.base, m.cancel = context.WithCancel(context.Background())
	return m
}

// RegisterServer registers a server configuration for a language.
func (m *Manager) RegisterServer(language string, config ServerConfig) {
	m.mu.Lock()
	m.configs[language] = config
	m.mu.Unlock()
}

// HasServer reports whether a server is configured for language.
func (m *Manager) HasServer(language string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.configs[language]
	return ok
}

// Connect returns a new connection for the document, starting the
// language's session if needed. An existing connection for the same ID path
// is torn down first.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (*Connection, error) {
	if req.IDPath == "" || req.Language == "" {
		return nil, ErrInvalidRequest
	}

	session, err := m.session(ctx, req.Language)
	if err != nil {
		return nil, err
	}

	m.slotMu.Lock()
	defer m.slotMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	closed := m.closed
	old := m.conns[req.IDPath]
	m.mu.Unlock()

	if closed {
		return nil, ErrShutdown
	}
	if old != nil {
		m.teardownLocked(ctx, old)
	}

	conn := newConnection(req.IDPath, req.Language, req.URI, session, m.logger)

	m.mu.Lock()
	m.conns[req.IDPath] = conn
	m.mu.Unlock()

	m.logger.Debug("connected document",
		zap.String("document", req.IDPath),
		zap.String("language", req.Language))
	return conn, nil
}

// session returns the ready session for language, sharing one start among
// concurrent callers.
func (m *Manager) session(ctx context.Context, language string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShutdown
	}

	if s, ok := m.sessions[language]; ok {
		if s.IsReady() {
			m.mu.Unlock()
			return s, nil
		}
		// Crashed sessions are replaced; connections still holding them
		// stay not ready.
		delete(m.sessions, language)
		go func() { _ = s.Shutdown(context.Background()) }()
	}

	config, ok := m.configs[language]
	if !ok {
		m.mu.Unlock()
		return nil, &ServerError{LanguageID: language, Err: ErrNoServer}
	}
	if config.Timeout == 0 {
		config.Timeout = m.requestTimeout
	}

	p, ok := m.pending[language]
	if !ok {
		p = &pendingSession{done: make(chan struct{})}
		m.pending[language] = p
		m.starts.Add(1)
		go m.start(language, config, p)
	}
	m.mu.Unlock()

	select {
	case <-p.done:
		return p.session, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// start runs the session handshake with retries. It is not bound to the
// context of the first caller, so a cancelled Connect does not fail the
// others waiting on the same language.
func (m *Manager) start(language string, config ServerConfig, p *pendingSession) {
	defer m.starts.Done()

	ctx, cancel := context.WithTimeout(m.base, m.connectTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialInterval

	s, err := backoff.Retry(ctx, func() (*Session, error) {
		s, err := StartSession(ctx, m.dialer, language, config, m.logger)
		if errors.Is(err, exec.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(m.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("language server start failed, retrying",
				zap.String("language", language),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)

	m.mu.Lock()
	delete(m.pending, language)
	shutdown := err == nil && m.closed
	if err == nil && !shutdown {
		m.sessions[language] = s
		s.Messages.Connect(m.Messages.Emit)
	}
	m.mu.Unlock()

	switch {
	case err != nil:
		m.logger.Error("language server unavailable", zap.String("language", language), zap.Error(err))
		p.err = &ServerError{LanguageID: language, Err: err}
	case shutdown:
		_ = s.Shutdown(context.Background())
		p.err = ErrShutdown
	default:
		p.session = s
	}
	close(p.done)
}

// Disconnect closes conn and unregisters it if it is still the registered
// connection for its document.
func (m *Manager) Disconnect(ctx context.Context, conn *Connection) {
	if conn == nil {
		return
	}
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	m.teardownLocked(ctx, conn)
}

// Unregister tears down the connection registered for idPath, if any.
func (m *Manager) Unregister(ctx context.Context, idPath string) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()

	if conn, ok := m.Connection(idPath); ok {
		m.teardownLocked(ctx, conn)
	}
}

// unregisterSubtree tears down idPath and every document nested in it.
func (m *Manager) unregisterSubtree(ctx context.Context, idPath string) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()

	m.mu.Lock()
	var victims []*Connection
	for id, conn := range m.conns {
		if id == idPath || strings.HasPrefix(id, idPath+".") {
			victims = append(victims, conn)
		}
	}
	m.mu.Unlock()

	// Deepest first, matching the order documents are disposed in.
	for i := 1; i < len(victims); i++ {
		for j := i; j > 0 && len(victims[j].idPath) > len(victims[j-1].idPath); j-- {
			victims[j], victims[j-1] = victims[j-1], victims[j]
		}
	}
	for _, conn := range victims {
		m.teardownLocked(ctx, conn)
	}
}

// teardownLocked closes conn, removes it from the registry when it is the
// registered one, then broadcasts Closed. slotMu must be held.
func (m *Manager) teardownLocked(ctx context.Context, conn *Connection) {
	if conn.IsClosed() {
		return
	}
	if err := conn.Close(ctx); err != nil {
		m.logger.Debug("close connection", zap.String("document", conn.idPath), zap.Error(err))
	}

	m.mu.Lock()
	if m.conns[conn.idPath] == conn {
		delete(m.conns, conn.idPath)
	}
	m.mu.Unlock()

	m.Closed.Emit(conn)
}

// Connection returns the connection registered for idPath.
func (m *Manager) Connection(idPath string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[idPath]
	return conn, ok
}

// Connections returns every registered connection.
func (m *Manager) Connections() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Values(m.conns)
}

// Sessions returns the running sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Values(m.sessions)
}

// Languages returns the configured languages.
func (m *Manager) Languages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Keys(m.configs)
}

// TrackDocument unregisters the connections of doc's foreign descendants
// when they are closed. Children opened later are tracked as well.
// Cancelling the returned subscription stops tracking.
func (m *Manager) TrackDocument(doc *virtualdoc.Document) event.Subscription {
	reg := event.NewRegistry()
	m.track(reg, doc)
	return event.NewSubscription("lsp:track", reg.Close)
}

func (m *Manager) track(reg *event.Registry, doc *virtualdoc.Document) {
	reg.Add(doc.IDPath(),
		doc.ForeignOpened.Connect(func(child *virtualdoc.Document) {
			m.track(reg, child)
		}),
		doc.ForeignClosed.Connect(func(child *virtualdoc.Document) {
			reg.CancelGroup(child.IDPath())
			m.unregisterSubtree(context.Background(), child.IDPath())
		}),
	)
	for _, child := range doc.Children() {
		m.track(reg, child)
	}
}

// Shutdown closes every connection and shuts every session down.
// Safe to call multiple times (idempotent).
func (m *Manager) Shutdown(ctx context.Context) error {
	m.slotMu.Lock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.slotMu.Unlock()
		return nil
	}
	m.closed = true
	conns := lo.Values(m.conns)
	m.mu.Unlock()

	for _, conn := range conns {
		m.teardownLocked(ctx, conn)
	}
	m.slotMu.Unlock()

	m.cancel()
	m.starts.Wait()

	m.mu.Lock()
	sessions := lo.Values(m.sessions)
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	var errsMu sync.Mutex
	var errs []error
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.Shutdown(gctx); err != nil {
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.Closed.DisconnectAll()
	m.Messages.DisconnectAll()
	m.logger.Info("connection manager shut down", zap.Int("sessions", len(sessions)))
	return errors.Join(errs...)
}

// IsShutdown reports whether Shutdown was called.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
