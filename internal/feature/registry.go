package feature

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

type registration struct {
	name    string
	factory Factory
}

// Registry holds the feature factories applied to every document.
type Registry struct {
	mu            sync.RWMutex
	registrations []registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry with the built-in features.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(DiagnosticsName, NewDiagnostics)
	return r
}

// Register adds a factory. Features are built in registration order.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.registrations {
		if reg.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateFeature, name)
		}
	}
	r.registrations = append(r.registrations, registration{name: name, factory: factory})
	return nil
}

// Names returns the registered feature names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.registrations, func(reg registration, _ int) string { return reg.name })
}

// Build creates a bundle for fc.Document. A factory that fails or panics is
// logged and left out of the bundle.
func (r *Registry) Build(fc Context) *Bundle {
	if fc.Logger == nil {
		fc.Logger = zap.NewNop()
	}
	logger := fc.Logger.Named("feature")
	if fc.Document != nil {
		logger = logger.With(zap.String("document", fc.Document.IDPath()))
	}

	r.mu.RLock()
	regs := append([]registration(nil), r.registrations...)
	r.mu.RUnlock()

	b := &Bundle{logger: logger}
	for _, reg := range regs {
		f, err := build(reg, fc)
		if err != nil {
			logger.Warn("feature unavailable", zap.String("feature", reg.name), zap.Error(err))
			continue
		}
		b.features = append(b.features, f)
	}
	return b
}

func build(reg registration, fc Context) (f Feature, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	f, err = reg.factory(fc)
	if err == nil && f == nil {
		err = errors.New("factory returned no feature")
	}
	return f, err
}

// Bundle is the set of features of one document.
type Bundle struct {
	features []Feature
	logger   *zap.Logger

	disposeOnce sync.Once
	disposed    atomic.Bool
}

// Features returns the features in build order.
func (b *Bundle) Features() []Feature {
	return append([]Feature(nil), b.features...)
}

// Feature returns the feature with the given name.
func (b *Bundle) Feature(name string) (Feature, bool) {
	return lo.Find(b.features, func(f Feature) bool { return f.Name() == name })
}

// Names returns the feature names in build order.
func (b *Bundle) Names() []string {
	return lo.Map(b.features, func(f Feature, _ int) string { return f.Name() })
}

// AfterChange notifies every feature. A failing feature does not stop the
// others; the errors are joined.
func (b *Bundle) AfterChange(ctx context.Context, change Change) error {
	if b.disposed.Load() {
		return nil
	}
	var errs []error
	for _, f := range b.features {
		if err := afterChange(ctx, f, change); err != nil {
			b.logger.Warn("feature failed", zap.String("feature", f.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func afterChange(ctx context.Context, f Feature, change Change) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f.AfterChange(ctx, change)
}

// Dispose disposes every feature once.
// Safe to call multiple times (idempotent).
func (b *Bundle) Dispose() {
	b.disposeOnce.Do(func() {
		b.disposed.Store(true)
		for _, f := range b.features {
			func() {
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("feature dispose panicked",
							zap.String("feature", f.Name()),
							zap.Any("panic", r))
					}
				}()
				f.Dispose()
			}()
		}
	})
}

// Disposed reports whether Dispose was called.
func (b *Bundle) Disposed() bool {
	return b.disposed.Load()
}
