package event

import (
	"sync"
)

// Registry owns subscriptions in named groups so they can be torn down
// together. The zero value is not usable; call NewRegistry.
type Registry struct {
	mu     sync.Mutex
	groups map[string][]Subscription
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string][]Subscription),
	}
}

// Add records subscriptions under group. After Close, added subscriptions
// are cancelled immediately.
func (r *Registry) Add(group string, subs ...Subscription) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancelAll(subs)
		return
	}
	r.groups[group] = append(r.groups[group], subs...)
	r.mu.Unlock()
}

// CancelGroup cancels and forgets every subscription in group.
func (r *Registry) CancelGroup(group string) {
	r.mu.Lock()
	subs := r.groups[group]
	delete(r.groups, group)
	r.mu.Unlock()

	cancelAll(subs)
}

// Len returns the number of subscriptions held for group.
func (r *Registry) Len(group string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups[group])
}

// Groups returns the names of the groups currently held.
func (r *Registry) Groups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	return names
}

// Close cancels every subscription in every group.
// Safe to call multiple times (idempotent).
func (r *Registry) Close() {
	r.mu.Lock()
	groups := r.groups
	r.groups = make(map[string][]Subscription)
	r.closed = true
	r.mu.Unlock()

	for _, subs := range groups {
		cancelAll(subs)
	}
}

func cancelAll(subs []Subscription) {
	for _, sub := range subs {
		if sub != nil {
			sub.Cancel()
		}
	}
}
