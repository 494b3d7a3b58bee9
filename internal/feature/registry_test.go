package feature

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubFeature struct {
	name     string
	err      error
	panics   bool
	changes  int
	disposed int
}

func (f *stubFeature) Name() string { return f.name }

func (f *stubFeature) AfterChange(context.Context, Change) error {
	f.changes++
	if f.panics {
		panic("stub exploded")
	}
	return f.err
}

func (f *stubFeature) Dispose() {
	f.disposed++
	if f.panics {
		panic("stub exploded")
	}
}

func factoryFor(f *stubFeature) Factory {
	return func(Context) (Feature, error) { return f, nil }
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", factoryFor(&stubFeature{name: "a"})))
	require.NoError(t, r.Register("b", factoryFor(&stubFeature{name: "b"})))
	assert.ErrorIs(t, r.Register("a", factoryFor(&stubFeature{name: "a"})), ErrDuplicateFeature)
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestDefaultRegistry(t *testing.T) {
	assert.Equal(t, []string{DiagnosticsName}, DefaultRegistry().Names())
}

func TestRegistry_BuildSkipsBrokenFactories(t *testing.T) {
	r := NewRegistry()
	good := &stubFeature{name: "good"}
	require.NoError(t, r.Register("failing", func(Context) (Feature, error) { return nil, errors.New("no") }))
	require.NoError(t, r.Register("panicking", func(Context) (Feature, error) { panic("no") }))
	require.NoError(t, r.Register("nil", func(Context) (Feature, error) { return nil, nil }))
	require.NoError(t, r.Register("good", factoryFor(good)))

	b := r.Build(Context{Logger: zaptest.NewLogger(t)})
	assert.Equal(t, []string{"good"}, b.Names())

	f, ok := b.Feature("good")
	require.True(t, ok)
	assert.Same(t, good, f)
	_, ok = b.Feature("failing")
	assert.False(t, ok)
}

func TestBundle_AfterChangeIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	failing := &stubFeature{name: "failing", err: boom}
	panicking := &stubFeature{name: "panicking", panics: true}
	ok := &stubFeature{name: "ok"}

	r := NewRegistry()
	for _, f := range []*stubFeature{failing, panicking, ok} {
		require.NoError(t, r.Register(f.name, factoryFor(f)))
	}
	b := r.Build(Context{})

	err := b.AfterChange(context.Background(), Change{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stub exploded")
	assert.Equal(t, 1, failing.changes)
	assert.Equal(t, 1, panicking.changes)
	assert.Equal(t, 1, ok.changes)
}

func TestBundle_DisposeOnce(t *testing.T) {
	panicking := &stubFeature{name: "panicking", panics: true}
	ok := &stubFeature{name: "ok"}

	r := NewRegistry()
	require.NoError(t, r.Register(panicking.name, factoryFor(panicking)))
	require.NoError(t, r.Register(ok.name, factoryFor(ok)))
	b := r.Build(Context{Logger: zaptest.NewLogger(t)})

	b.Dispose()
	b.Dispose()

	assert.True(t, b.Disposed())
	assert.Equal(t, 1, panicking.disposed)
	assert.Equal(t, 1, ok.disposed)

	// A disposed bundle ignores changes.
	require.NoError(t, b.AfterChange(context.Background(), Change{}))
	assert.Equal(t, 0, ok.changes)
}
