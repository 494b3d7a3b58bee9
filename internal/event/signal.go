package event

import (
	"sync"
)

// Signal is a typed, synchronous event source. Handlers run on the emitting
// goroutine in connection order.
type Signal[T any] struct {
	name string

	mu       sync.RWMutex
	handlers []*signalHandler[T]
}

type signalHandler[T any] struct {
	sub *subscription
	fn  func(T)
}

// NewSignal creates a signal. The name prefixes subscription IDs.
func NewSignal[T any](name string) *Signal[T] {
	return &Signal[T]{name: name}
}

// Name returns the signal name.
func (s *Signal[T]) Name() string {
	return s.name
}

// Connect registers fn and returns the subscription that detaches it.
func (s *Signal[T]) Connect(fn func(T)) Subscription {
	h := &signalHandler[T]{fn: fn}
	h.sub = newSubscription(nextSubscriptionID(s.name), func() { s.remove(h) })

	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
	return h.sub
}

// Emit delivers v to every active handler. Handlers connected or cancelled
// during delivery take effect from the next emission, except that a handler
// cancelled mid-delivery is not called afterwards.
func (s *Signal[T]) Emit(v T) {
	s.mu.RLock()
	handlers := make([]*signalHandler[T], len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		if h.sub.IsActive() {
			h.fn(v)
		}
	}
}

// Len returns the number of connected handlers.
func (s *Signal[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// DisconnectAll cancels every subscription on the signal.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	for _, h := range handlers {
		h.sub.Cancel()
	}
}

func (s *Signal[T]) remove(h *signalHandler[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.handlers {
		if existing == h {
			s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
			return
		}
	}
}
