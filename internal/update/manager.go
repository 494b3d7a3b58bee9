// Package update serializes recomputation of a virtual document tree.
//
// All tree mutation goes through Manager.Update. Consumers that read derived
// state and must not observe a half-updated tree run inside
// Manager.WithUpdateLock. Neither call is re-entrant: a signal handler invoked
// by an update must not call back into the manager on the same goroutine.
package update

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/nblsp/internal/editor"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

// ErrDisposed is returned by WithUpdateLock once disposal has started.
var ErrDisposed = errors.New("update manager disposed")

// Manager serializes updates of one tree.
type Manager struct {
	// sem has one slot; holding it is holding the update lock. Waiters are
	// served in arrival order.
	sem *semaphore.Weighted

	mu        sync.Mutex
	tree      *virtualdoc.Tree
	disposing bool

	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a manager for tree. tree may be nil until SetRoot is called.
func New(tree *virtualdoc.Tree, opts ...Option) *Manager {
	m := &Manager{
		sem:    semaphore.NewWeighted(1),
		tree:   tree,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("update")
	return m
}

// SetRoot replaces the tree. Call it before the first update or from inside
// WithUpdateLock.
func (m *Manager) SetRoot(tree *virtualdoc.Tree) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposing {
		return
	}
	m.tree = tree
}

// Root returns the current tree.
func (m *Manager) Root() *virtualdoc.Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree
}

// Update recomputes the whole tree from buffers and returns after every
// resulting signal was delivered. Once disposal has started it does nothing.
func (m *Manager) Update(ctx context.Context, buffers []editor.Buffer) error {
	if m.IsDisposed() {
		return nil
	}
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.mu.Lock()
	tree, disposing := m.tree, m.disposing
	m.mu.Unlock()
	if disposing || tree == nil {
		return nil
	}

	return m.run("update", func() error {
		tree.Update(buffers)
		return nil
	})
}

// WithUpdateLock runs fn while no update can start. Overlapping calls queue.
func (m *Manager) WithUpdateLock(ctx context.Context, fn func() error) error {
	if m.IsDisposed() {
		return ErrDisposed
	}
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if m.IsDisposed() {
		return ErrDisposed
	}
	return m.run("locked action", fn)
}

// Dispose stops accepting work and waits for the running update or locked
// action to finish. Safe to call multiple times (idempotent).
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	if m.disposing {
		m.mu.Unlock()
		return nil
	}
	m.disposing = true
	m.mu.Unlock()

	err := m.acquire(ctx)
	if err == nil {
		m.release()
	}

	m.mu.Lock()
	m.tree = nil
	m.mu.Unlock()

	m.logger.Debug("disposed")
	return err
}

// IsDisposed reports whether disposal has started.
func (m *Manager) IsDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposing
}

func (m *Manager) acquire(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

func (m *Manager) release() {
	m.sem.Release(1)
}

// run calls fn, turning a panic into an error.
func (m *Manager) run(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("recovered panic",
				zap.String("operation", op),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("%s: panic: %v", op, r)
		}
	}()
	return fn()
}
