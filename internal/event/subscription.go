package event

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// SubscriptionState represents the state of a subscription.
type SubscriptionState int32

const (
	// SubscriptionStateActive means the subscription is receiving events.
	SubscriptionStateActive SubscriptionState = iota

	// SubscriptionStateCancelled means the subscription has been permanently cancelled.
	SubscriptionStateCancelled
)

// String returns a human-readable state name.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStateActive:
		return "active"
	case SubscriptionStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Subscription represents a live connection between an event source and a handler.
type Subscription interface {
	// ID returns the unique subscription identifier.
	ID() string

	// State returns the current subscription state.
	State() SubscriptionState

	// IsActive returns true if the subscription can receive events.
	IsActive() bool

	// Cancel permanently detaches the handler from its source.
	// Calling Cancel more than once has no effect.
	Cancel()
}

var subscriptionSeq atomic.Uint64

func nextSubscriptionID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, subscriptionSeq.Add(1))
}

// subscription is the internal implementation of Subscription.
type subscription struct {
	id       string
	state    atomic.Int32
	once     sync.Once
	onCancel func()
}

// NewSubscription returns a Subscription that runs onCancel the first time it
// is cancelled. Event sources outside this package use it to hand out
// subscriptions that fit into a Registry.
func NewSubscription(prefix string, onCancel func()) Subscription {
	return newSubscription(nextSubscriptionID(prefix), onCancel)
}

func newSubscription(id string, onCancel func()) *subscription {
	s := &subscription{
		id:       id,
		onCancel: onCancel,
	}
	s.state.Store(int32(SubscriptionStateActive))
	return s
}

// ID returns the subscription ID.
func (s *subscription) ID() string {
	return s.id
}

// State returns the current subscription state.
func (s *subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// IsActive returns true if the subscription is active.
func (s *subscription) IsActive() bool {
	return s.State() == SubscriptionStateActive
}

// Cancel permanently cancels the subscription.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.state.Store(int32(SubscriptionStateCancelled))
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}
