package editor

import (
	"fmt"
	"sync"

	"github.com/dshills/nblsp/internal/event"
)

// Cell is an in-memory Buffer.
type Cell struct {
	id       string
	language string
	text     string
}

// NewCell creates a cell. An empty language inherits the surface language.
func NewCell(id, language, text string) *Cell {
	return &Cell{id: id, language: language, text: text}
}

func (c *Cell) ID() string       { return c.id }
func (c *Cell) Text() string     { return c.text }
func (c *Cell) Language() string { return c.language }

// MemorySurface is a Surface held entirely in memory. Mutators emit the
// matching lifecycle event after releasing internal locks, so handlers may
// read the surface.
type MemorySurface struct {
	mu        sync.RWMutex
	path      string
	language  string
	extension string
	cells     []*Cell
	disposed  bool

	events *event.Signal[Event]
}

// NewMemorySurface creates an empty surface.
func NewMemorySurface(path, language, extension string) *MemorySurface {
	return &MemorySurface{
		path:      path,
		language:  language,
		extension: extension,
		events:    event.NewSignal[Event]("surface"),
	}
}

func (s *MemorySurface) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func (s *MemorySurface) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

func (s *MemorySurface) FileExtension() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extension
}

// Buffers returns a snapshot of the cells. Cells are immutable values, so the
// snapshot is unaffected by later edits.
func (s *MemorySurface) Buffers() []Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buffers := make([]Buffer, len(s.cells))
	for i, c := range s.cells {
		buffers[i] = c
	}
	return buffers
}

// Subscribe registers fn for lifecycle events.
func (s *MemorySurface) Subscribe(fn func(Event)) event.Subscription {
	return s.events.Connect(fn)
}

// AppendCell adds a cell at the end and emits ContentChanged.
func (s *MemorySurface) AppendCell(id, language, text string) error {
	s.mu.Lock()
	if s.indexLocked(id) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("cell %q already exists", id)
	}
	s.cells = append(s.cells, NewCell(id, language, text))
	s.mu.Unlock()

	s.emit(ContentChanged{})
	return nil
}

// SetText replaces the text of a cell and emits ContentChanged.
func (s *MemorySurface) SetText(id, text string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("cell %q not found", id)
	}
	old := s.cells[i]
	s.cells[i] = NewCell(old.id, old.language, text)
	s.mu.Unlock()

	s.emit(ContentChanged{})
	return nil
}

// RemoveCell deletes a cell and emits ContentChanged.
func (s *MemorySurface) RemoveCell(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("cell %q not found", id)
	}
	s.cells = append(s.cells[:i:i], s.cells[i+1:]...)
	s.mu.Unlock()

	s.emit(ContentChanged{})
	return nil
}

// Save emits a started/completed save sequence.
func (s *MemorySurface) Save() {
	s.emit(SaveStateChanged{State: SaveStarted})
	s.emit(SaveStateChanged{State: SaveCompleted})
}

// Rename changes the surface path and emits PathChanged.
func (s *MemorySurface) Rename(path string) {
	s.mu.Lock()
	old := s.path
	s.path = path
	s.mu.Unlock()

	s.emit(PathChanged{Old: old, New: path})
}

// SetLanguage changes the host language and emits LanguageChanged.
func (s *MemorySurface) SetLanguage(language, extension string) {
	s.mu.Lock()
	old := s.language
	s.language = language
	s.extension = extension
	s.mu.Unlock()

	s.emit(LanguageChanged{Old: old, New: language})
}

// Reload replaces every cell and emits Reloaded.
func (s *MemorySurface) Reload(cells []*Cell) {
	s.mu.Lock()
	s.cells = append([]*Cell(nil), cells...)
	s.mu.Unlock()

	s.emit(Reloaded{})
}

// Dispose emits Disposed once and drops all subscribers.
func (s *MemorySurface) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()

	s.events.Emit(Disposed{})
	s.events.DisconnectAll()
}

func (s *MemorySurface) emit(ev Event) {
	s.mu.RLock()
	disposed := s.disposed
	s.mu.RUnlock()
	if disposed {
		return
	}
	s.events.Emit(ev)
}

func (s *MemorySurface) indexLocked(id string) int {
	for i, c := range s.cells {
		if c.id == id {
			return i
		}
	}
	return -1
}
