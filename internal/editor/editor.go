// Package editor defines the contracts the synchronization core consumes from
// the editing surface: buffers, lifecycle events, positions and hit-testing.
package editor

import (
	"github.com/dshills/nblsp/internal/event"
)

// Buffer is one live editable region, such as a notebook cell.
type Buffer interface {
	// ID returns a stable identifier for the buffer.
	ID() string

	// Text returns the current buffer content.
	Text() string

	// Language returns the buffer language, or "" to inherit the surface language.
	Language() string
}

// Surface is a multi-buffer editing surface.
type Surface interface {
	// Path returns the surface path, used to derive virtual document identifiers.
	Path() string

	// Language returns the LSP language identifier of the host language.
	Language() string

	// FileExtension returns the file extension of the host language, without a dot.
	FileExtension() string

	// Buffers returns the live buffers in display order.
	Buffers() []Buffer

	// Subscribe registers fn for lifecycle events.
	Subscribe(fn func(Event)) event.Subscription
}

// Position is a location relative to one buffer.
// Line and Character are zero-based; Character counts UTF-16 code units.
type Position struct {
	Editor    string
	Line      int
	Character int
}

// Point is a window coordinate in device pixels.
type Point struct {
	X float64
	Y float64
}

// Hit is one element found under a Point.
type Hit struct {
	Position Position

	// Depth is the nesting depth of the element; larger is more specific.
	Depth int
}

// HitTester resolves window coordinates to buffer positions.
type HitTester interface {
	HitTest(p Point) []Hit
}

// HitTestFunc adapts a function to HitTester.
type HitTestFunc func(p Point) []Hit

// HitTest calls f(p).
func (f HitTestFunc) HitTest(p Point) []Hit {
	return f(p)
}
