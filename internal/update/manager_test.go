package update

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/nblsp/internal/editor"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

func newTestManager(t *testing.T) (*Manager, *virtualdoc.Tree) {
	t.Helper()
	tree := virtualdoc.NewTree(virtualdoc.TreeOptions{
		Path:       "nb",
		Language:   "python",
		VirtualDir: t.TempDir(),
		BlankLines: virtualdoc.DefaultBlankLines,
	})
	return New(tree, WithLogger(zaptest.NewLogger(t))), tree
}

func buffers(text string) []editor.Buffer {
	return []editor.Buffer{editor.NewCell("c1", "", text)}
}

func TestManager_UpdateDeliversSignalsBeforeReturning(t *testing.T) {
	m, tree := newTestManager(t)

	var seen string
	tree.Root().Changed.Connect(func(d *virtualdoc.Document) { seen = d.Value() })

	require.NoError(t, m.Update(context.Background(), buffers("x = 1")))
	assert.Equal(t, "x = 1", seen)
	assert.Equal(t, "x = 1", tree.Root().Value())
}

func TestManager_UpdateWaitsForLock(t *testing.T) {
	m, tree := newTestManager(t)
	ctx := context.Background()

	entered := make(chan struct{})
	releaseLock := make(chan struct{})
	lockDone := make(chan error, 1)
	go func() {
		lockDone <- m.WithUpdateLock(ctx, func() error {
			close(entered)
			<-releaseLock
			return nil
		})
	}()
	<-entered

	updated := make(chan error, 1)
	go func() { updated <- m.Update(ctx, buffers("y = 2")) }()

	select {
	case <-updated:
		t.Fatal("update ran while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, "", tree.Root().Value())

	close(releaseLock)
	require.NoError(t, <-lockDone)
	require.NoError(t, <-updated)
	assert.Equal(t, "y = 2", tree.Root().Value())
}

func TestManager_LockedActionsDoNotInterleave(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithUpdateLock(ctx, func() error {
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestManager_WithUpdateLockReturnsActionError(t *testing.T) {
	m, _ := newTestManager(t)
	want := errors.New("boom")
	assert.ErrorIs(t, m.WithUpdateLock(context.Background(), func() error { return want }), want)
}

func TestManager_RecoversPanics(t *testing.T) {
	m, tree := newTestManager(t)
	ctx := context.Background()

	err := m.WithUpdateLock(ctx, func() error { panic("feature exploded") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature exploded")

	tree.Root().Changed.Connect(func(*virtualdoc.Document) { panic("handler exploded") })
	err = m.Update(ctx, buffers("z"))
	require.Error(t, err)

	// The lock is released after a panic.
	require.NoError(t, m.WithUpdateLock(ctx, func() error { return nil }))
}

func TestManager_ContextCancelledWhileWaiting(t *testing.T) {
	m, _ := newTestManager(t)

	entered := make(chan struct{})
	releaseLock := make(chan struct{})
	go func() {
		_ = m.WithUpdateLock(context.Background(), func() error {
			close(entered)
			<-releaseLock
			return nil
		})
	}()
	<-entered
	defer close(releaseLock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Update(ctx, buffers("x")), context.DeadlineExceeded)
	assert.ErrorIs(t, m.WithUpdateLock(ctx, func() error { return nil }), context.DeadlineExceeded)
}

func TestManager_DisposeMakesUpdateNoOp(t *testing.T) {
	m, tree := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Dispose(ctx))
	require.NoError(t, m.Dispose(ctx))
	assert.True(t, m.IsDisposed())

	require.NoError(t, m.Update(ctx, buffers("ignored")))
	assert.Equal(t, "", tree.Root().Value())
	assert.ErrorIs(t, m.WithUpdateLock(ctx, func() error { return nil }), ErrDisposed)
	assert.Nil(t, m.Root())

	m.SetRoot(tree)
	assert.Nil(t, m.Root())
}

func TestManager_DisposeWaitsForRunningAction(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	entered := make(chan struct{})
	var finished atomic.Bool
	go func() {
		_ = m.WithUpdateLock(ctx, func() error {
			close(entered)
			time.Sleep(30 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()
	<-entered

	// Update during disposal is a no-op rather than queued.
	disposed := make(chan error, 1)
	go func() { disposed <- m.Dispose(ctx) }()
	require.Eventually(t, m.IsDisposed, time.Second, time.Millisecond)
	require.NoError(t, m.Update(ctx, buffers("late")))

	require.NoError(t, <-disposed)
	assert.True(t, finished.Load())
}

func TestManager_SetRoot(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Update(context.Background(), buffers("x")))

	tree := virtualdoc.NewTree(virtualdoc.TreeOptions{Path: "nb", Language: "python", VirtualDir: t.TempDir()})
	m.SetRoot(tree)
	require.NoError(t, m.Update(context.Background(), buffers("x")))
	assert.Same(t, tree, m.Root())
	assert.Equal(t, "x", tree.Root().Value())
}
