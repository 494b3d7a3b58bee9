package event

import (
	"sync"
	"testing"
)

func TestSubscriptionState_String(t *testing.T) {
	tests := []struct {
		state    SubscriptionState
		expected string
	}{
		{SubscriptionStateActive, "active"},
		{SubscriptionStateCancelled, "cancelled"},
		{SubscriptionState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("SubscriptionState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewSubscription(t *testing.T) {
	calls := 0
	sub := NewSubscription("surface", func() { calls++ })

	if !sub.IsActive() {
		t.Error("expected subscription to be active")
	}
	if sub.ID() == "" {
		t.Error("expected non-empty ID")
	}

	sub.Cancel()
	sub.Cancel()

	if sub.State() != SubscriptionStateCancelled {
		t.Errorf("expected cancelled, got %v", sub.State())
	}
	if calls != 1 {
		t.Errorf("expected onCancel to run once, ran %d times", calls)
	}
}

func TestSubscription_CancelConcurrent(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	sub := NewSubscription("surface", func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.Cancel()
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected one cancel callback, got %d", calls)
	}
}

func TestSubscription_UniqueIDs(t *testing.T) {
	a := NewSubscription("x", nil)
	b := NewSubscription("x", nil)
	if a.ID() == b.ID() {
		t.Errorf("expected distinct IDs, both were %q", a.ID())
	}
}
