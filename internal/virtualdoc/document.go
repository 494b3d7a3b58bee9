package virtualdoc

import (
	"fmt"
	"strings"
	"sync"

	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/event"
)

// Source is one region of text feeding a document, located in a buffer.
type Source struct {
	// Editor is the ID of the buffer holding the text.
	Editor string

	// Text is the region content.
	Text string

	// Line is the buffer line where Text starts.
	Line int

	// Character is the UTF-16 column where Text starts on its first line.
	Character int
}

// DocumentInfo is the identity and revision sent to a language server.
type DocumentInfo struct {
	URI        uri.URI
	LanguageID string
	Version    int32
}

// block records where one Source landed in a document value.
type block struct {
	editor          string
	virtualLine     int
	editorLine      int
	editorCharacter int
	lines           int
	lastLineLen     int
}

func (b block) lastEditorLine() int {
	return b.editorLine + b.lines - 1
}

// endCharacter is the buffer column one past the block's last character.
func (b block) endCharacter() int {
	if b.lines == 1 {
		return b.editorCharacter + b.lastLineLen
	}
	return b.lastLineLen
}

func (b block) containsEditor(editor string, line, char int) bool {
	if editor != b.editor || line < b.editorLine || line > b.lastEditorLine() {
		return false
	}
	if line == b.editorLine && char < b.editorCharacter {
		return false
	}
	if line == b.lastEditorLine() && char > b.endCharacter() {
		return false
	}
	return true
}

func (b block) containsVirtual(p Position) bool {
	if p.Line < b.virtualLine || p.Line >= b.virtualLine+b.lines {
		return false
	}
	if p.Line == b.virtualLine+b.lines-1 && p.Character > b.lastLineLen {
		return false
	}
	return p.Character >= 0
}

// Document is a single-language virtual document. The host document of a
// tree owns its foreign children; a child refers to its parent by ID.
type Document struct {
	tree       *Tree
	idPath     string
	parentID   string
	language   string
	extension  string
	uri        uri.URI
	standalone bool

	mu       sync.RWMutex
	value    string
	version  int32
	blocks   []block
	children []*Document
	disposed bool

	// Changed fires after a recomputation changed the value.
	Changed *event.Signal[*Document]

	// ForeignOpened fires when a new child is available, after its value.
	ForeignOpened *event.Signal[*Document]

	// ForeignClosed fires when a child disappeared, after it was disposed.
	ForeignClosed *event.Signal[*Document]
}

func newDocument(t *Tree, idPath, parentID, language, extension string, standalone bool) *Document {
	return &Document{
		tree:          t,
		idPath:        idPath,
		parentID:      parentID,
		language:      language,
		extension:     extension,
		uri:           t.documentURI(idPath, extension),
		standalone:    standalone,
		Changed:       event.NewSignal[*Document](idPath + ":changed"),
		ForeignOpened: event.NewSignal[*Document](idPath + ":foreign-opened"),
		ForeignClosed: event.NewSignal[*Document](idPath + ":foreign-closed"),
	}
}

// IDPath returns the identifier of the document, unique within its tree.
func (d *Document) IDPath() string { return d.idPath }

// Language returns the LSP language identifier.
func (d *Document) Language() string { return d.language }

// FileExtension returns the document's file extension.
func (d *Document) FileExtension() string { return d.extension }

// URI returns the virtual file URI reported to language servers.
func (d *Document) URI() uri.URI { return d.uri }

// IsHost reports whether d is the root of its tree.
func (d *Document) IsHost() bool { return d.parentID == "" }

// Standalone reports whether d holds a single extracted block.
func (d *Document) Standalone() bool { return d.standalone }

// Parent returns the document d was extracted from.
func (d *Document) Parent() (*Document, bool) {
	if d.parentID == "" {
		return nil, false
	}
	return d.tree.Lookup(d.parentID)
}

// Value returns the current text.
func (d *Document) Value() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value
}

// Version returns the revision, incremented on every value change.
func (d *Document) Version() int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Info returns the identity and revision of d.
func (d *Document) Info() DocumentInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DocumentInfo{URI: d.uri, LanguageID: d.language, Version: d.version}
}

// Snapshot returns the value and info read atomically.
func (d *Document) Snapshot() (string, DocumentInfo) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value, DocumentInfo{URI: d.uri, LanguageID: d.language, Version: d.version}
}

// LineText returns line n of the value.
func (d *Document) LineText(n int) string {
	return lineText(d.Value(), n)
}

// Children returns the foreign children in order of first appearance.
func (d *Document) Children() []*Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Document(nil), d.children...)
}

// Child returns the child with the given ID path.
func (d *Document) Child(idPath string) (*Document, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.children {
		if c.idPath == idPath {
			return c, true
		}
	}
	return nil, false
}

// Disposed reports whether d was removed from its tree.
func (d *Document) Disposed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.disposed
}

func (d *Document) String() string {
	return d.idPath
}

// childPlan gathers the sources of one child across a recomputation.
type childPlan struct {
	idPath     string
	language   string
	extension  string
	standalone bool
	sources    []Source
}

// recompute re-derives d from sources. Signal order: ForeignClosed for
// vanished children, recomputation of surviving children, ForeignOpened for
// new children, then Changed for d. With quiet set no signal of d fires;
// it is used for documents nobody can be subscribed to yet.
func (d *Document) recompute(sources []Source, quiet bool) {
	if d.Disposed() {
		return
	}

	value, blocks, plans := d.derive(sources)

	d.mu.Lock()
	previous := d.children
	d.mu.Unlock()

	existing := make(map[string]*Document, len(previous))
	for _, c := range previous {
		existing[c.idPath] = c
	}
	wanted := make(map[string]bool, len(plans))
	for _, p := range plans {
		wanted[p.idPath] = true
	}

	var removed []*Document
	for _, c := range previous {
		if !wanted[c.idPath] {
			removed = append(removed, c)
		}
	}
	d.setChildren(keep(previous, wanted))
	for _, c := range removed {
		d.closeChild(c, quiet)
	}

	children := make([]*Document, 0, len(plans))
	var opened []*Document
	for _, p := range plans {
		if c, ok := existing[p.idPath]; ok {
			c.recompute(p.sources, quiet)
			children = append(children, c)
			continue
		}
		c := newDocument(d.tree, p.idPath, d.idPath, p.language, p.extension, p.standalone)
		if err := d.tree.register(c); err != nil {
			d.tree.logger.Warn("skipping foreign document", zap.String("id", p.idPath), zap.Error(err))
			continue
		}
		c.recompute(p.sources, true)
		children = append(children, c)
		opened = append(opened, c)
	}
	d.setChildren(children)

	if !quiet {
		for _, c := range opened {
			d.ForeignOpened.Emit(c)
		}
	}

	d.mu.Lock()
	changed := d.value != value
	d.value = value
	d.blocks = blocks
	if changed {
		d.version++
	}
	d.mu.Unlock()

	if changed && !quiet {
		d.Changed.Emit(d)
	}
}

// derive computes the value, block layout and child plans for sources.
func (d *Document) derive(sources []Source) (string, []block, []*childPlan) {
	var b strings.Builder
	blocks := make([]block, 0, len(sources))
	var plans []*childPlan
	byID := make(map[string]*childPlan)
	ordinals := make(map[string]int)

	sepLines := d.tree.blankLines + 1
	sep := strings.Repeat("\n", sepLines)
	line := 0
	for i, src := range sources {
		if i > 0 {
			b.WriteString(sep)
			line += sepLines
		}

		text, found := d.tree.extract(d.language, src)
		b.WriteString(text)
		n := lineCount(text)
		blocks = append(blocks, block{
			editor:          src.Editor,
			virtualLine:     line,
			editorLine:      src.Line,
			editorCharacter: src.Character,
			lines:           n,
			lastLineLen:     lastLineLen(text),
		})
		line += n - 1

		for _, ex := range found {
			rule := ex.extractor.rule
			id := d.idPath + "." + rule.FileExtension
			if rule.Standalone {
				ordinals[rule.FileExtension]++
				id = fmt.Sprintf("%s-%d", id, ordinals[rule.FileExtension])
			}
			p, ok := byID[id]
			if !ok {
				p = &childPlan{
					idPath:     id,
					language:   rule.Language,
					extension:  rule.FileExtension,
					standalone: rule.Standalone,
				}
				byID[id] = p
				plans = append(plans, p)
			}
			p.sources = append(p.sources, ex.source)
		}
	}
	return b.String(), blocks, plans
}

func keep(docs []*Document, wanted map[string]bool) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, c := range docs {
		if wanted[c.idPath] {
			out = append(out, c)
		}
	}
	return out
}

func (d *Document) setChildren(children []*Document) {
	d.mu.Lock()
	d.children = children
	d.mu.Unlock()
}

// closeChild disposes c, drops it from the index and announces it.
func (d *Document) closeChild(c *Document, quiet bool) {
	c.dispose()
	d.tree.unregister(c.idPath)
	if !quiet {
		d.ForeignClosed.Emit(c)
	}
}

// dispose closes every descendant depth-first, then detaches all handlers.
func (d *Document) dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	children := d.children
	d.children = nil
	d.mu.Unlock()

	for _, c := range children {
		d.closeChild(c, false)
	}

	d.Changed.DisconnectAll()
	d.ForeignOpened.DisconnectAll()
	d.ForeignClosed.DisconnectAll()
}

// blocksSnapshot returns the block layout for mapping.
func (d *Document) blocksSnapshot() []block {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blocks
}
