// Package status holds the transient status message shown to the user.
package status

import (
	"sync"
	"time"

	"github.com/dshills/nblsp/internal/event"
)

// Message is the current status text. The zero value means no status.
type Message struct {
	Text      string
	ExpiresAt time.Time
}

// Channel holds at most one status message. A message set with a TTL is
// cleared when it expires unless it was replaced in the meantime.
type Channel struct {
	mu         sync.Mutex
	current    Message
	generation uint64
	timer      *time.Timer
	defaultTTL time.Duration

	// Changed fires with the new message on every Set, Clear and expiry.
	Changed *event.Signal[Message]
}

// NewChannel creates a channel. defaultTTL applies to Set calls with a
// zero TTL; zero keeps such messages until replaced.
func NewChannel(defaultTTL time.Duration) *Channel {
	return &Channel{
		defaultTTL: defaultTTL,
		Changed:    event.NewSignal[Message]("status:changed"),
	}
}

// Set replaces the status. A negative ttl keeps the message until replaced.
func (c *Channel) Set(text string, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.stopTimerLocked()
	msg := Message{Text: text}
	if ttl > 0 {
		msg.ExpiresAt = time.Now().Add(ttl)
		c.timer = time.AfterFunc(ttl, func() { c.expire(gen) })
	}
	c.current = msg
	c.mu.Unlock()

	c.Changed.Emit(msg)
}

// Clear removes the status.
func (c *Channel) Clear() {
	c.mu.Lock()
	c.generation++
	c.stopTimerLocked()
	c.current = Message{}
	c.mu.Unlock()

	c.Changed.Emit(Message{})
}

// Current returns the status message, or the zero Message.
func (c *Channel) Current() Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Channel) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.timer = nil
	c.current = Message{}
	c.mu.Unlock()

	c.Changed.Emit(Message{})
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Close stops the expiry timer and detaches every handler.
func (c *Channel) Close() {
	c.mu.Lock()
	c.generation++
	c.stopTimerLocked()
	c.mu.Unlock()
	c.Changed.DisconnectAll()
}
