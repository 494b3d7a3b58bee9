package editor

// SaveState is the phase of a save operation.
type SaveState int

const (
	SaveStarted SaveState = iota
	SaveCompleted
	SaveFailed
)

// String returns a human-readable save state.
func (s SaveState) String() string {
	switch s {
	case SaveStarted:
		return "started"
	case SaveCompleted:
		return "completed"
	case SaveFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a surface lifecycle event.
type Event interface {
	eventName() string
}

// ContentChanged reports that the text of at least one buffer changed,
// or that buffers were added, removed or reordered.
type ContentChanged struct{}

// SaveStateChanged reports progress of a save.
type SaveStateChanged struct {
	State SaveState
}

// PathChanged reports a rename of the surface.
type PathChanged struct {
	Old string
	New string
}

// LanguageChanged reports a change of the host language.
type LanguageChanged struct {
	Old string
	New string
}

// Reloaded reports that the surface content was replaced from storage.
type Reloaded struct{}

// Disposed reports that the surface is gone.
type Disposed struct{}

func (ContentChanged) eventName() string   { return "content-changed" }
func (SaveStateChanged) eventName() string { return "save-state-changed" }
func (PathChanged) eventName() string      { return "path-changed" }
func (LanguageChanged) eventName() string  { return "language-changed" }
func (Reloaded) eventName() string         { return "reloaded" }
func (Disposed) eventName() string         { return "disposed" }

// EventName returns a stable name for ev, for logging.
func EventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}
