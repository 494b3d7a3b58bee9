package virtualdoc

import (
	"github.com/dshills/nblsp/internal/editor"
)

// Mapper converts positions between buffers, virtual documents and the
// window. It reads the tree as it is when called; results must be
// re-fetched after the tree changes.
type Mapper struct {
	root *Document
	hits editor.HitTester
}

// NewMapper creates a mapper rooted at the host document. hits may be nil,
// in which case WindowToRoot always fails.
func NewMapper(root *Document, hits editor.HitTester) *Mapper {
	return &Mapper{root: root, hits: hits}
}

// RootToVirtual finds the most deeply nested document containing pos and
// the position inside it. It fails when pos lies in a buffer that is not
// part of the tree or outside every synchronized region.
func (m *Mapper) RootToVirtual(pos editor.Position) (*Document, Position, bool) {
	if m.root == nil || m.root.Disposed() {
		return nil, Position{}, false
	}
	vp, ok := toVirtual(m.root, pos)
	if !ok {
		return nil, Position{}, false
	}
	doc := m.root
	for {
		next, nextPos, found := childAt(doc, pos)
		if !found {
			return doc, vp, true
		}
		doc, vp = next, nextPos
	}
}

// DocumentAtVirtual resolves which document owns a position of the host
// document value, since foreign regions are carved out of the host text.
func (m *Mapper) DocumentAtVirtual(hostPos Position) (*Document, Position, bool) {
	root, ok := m.VirtualToRoot(m.root, hostPos)
	if !ok {
		return nil, Position{}, false
	}
	return m.RootToVirtual(root)
}

// VirtualToRoot maps a position in doc back to the buffer it came from.
func (m *Mapper) VirtualToRoot(doc *Document, pos Position) (editor.Position, bool) {
	if doc == nil || doc.Disposed() {
		return editor.Position{}, false
	}
	for _, b := range doc.blocksSnapshot() {
		if !b.containsVirtual(pos) {
			continue
		}
		char := pos.Character
		if pos.Line == b.virtualLine {
			char += b.editorCharacter
		}
		return editor.Position{
			Editor:    b.editor,
			Line:      b.editorLine + pos.Line - b.virtualLine,
			Character: char,
		}, true
	}
	return editor.Position{}, false
}

// WindowToRoot hit-tests p. When several elements are hit the most deeply
// nested wins; ties keep the first reported.
func (m *Mapper) WindowToRoot(p editor.Point) (editor.Position, bool) {
	if m.hits == nil {
		return editor.Position{}, false
	}
	hits := m.hits.HitTest(p)
	if len(hits) == 0 {
		return editor.Position{}, false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Depth > best.Depth {
			best = h
		}
	}
	return best.Position, true
}

// WindowToVirtual combines WindowToRoot and RootToVirtual.
func (m *Mapper) WindowToVirtual(p editor.Point) (*Document, Position, bool) {
	root, ok := m.WindowToRoot(p)
	if !ok {
		return nil, Position{}, false
	}
	return m.RootToVirtual(root)
}

func childAt(doc *Document, pos editor.Position) (*Document, Position, bool) {
	for _, c := range doc.Children() {
		if vp, ok := toVirtual(c, pos); ok {
			return c, vp, true
		}
	}
	return nil, Position{}, false
}

func toVirtual(doc *Document, pos editor.Position) (Position, bool) {
	for _, b := range doc.blocksSnapshot() {
		if !b.containsEditor(pos.Editor, pos.Line, pos.Character) {
			continue
		}
		char := pos.Character
		if pos.Line == b.editorLine {
			char -= b.editorCharacter
		}
		return Position{Line: b.virtualLine + pos.Line - b.editorLine, Character: char}, true
	}
	return Position{}, false
}
