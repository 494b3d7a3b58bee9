package virtualdoc

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.lsp.dev/uri"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/editor"
)

// DefaultBlankLines is the number of blank lines placed between sources.
const DefaultBlankLines = 2

// TreeOptions configures a Tree.
type TreeOptions struct {
	// Path is the surface path; the host ID path is Path#FileExtension.
	Path string

	// Language is the host language.
	Language string

	// FileExtension is the host extension; defaults to Language.
	FileExtension string

	// VirtualDir is the directory virtual document URIs point into.
	VirtualDir string

	// BlankLines separates consecutive sources; negative values mean zero.
	BlankLines int

	// Extractors are applied to every document whose language matches their host.
	Extractors []*Extractor

	Logger *zap.Logger
}

// Tree is the virtual document tree of one editing surface.
type Tree struct {
	path       string
	virtualDir string
	blankLines int
	extractors []*Extractor
	logger     *zap.Logger

	mu    sync.RWMutex
	index map[string]*Document
	root  *Document
}

// NewTree creates a tree holding an empty host document.
func NewTree(opts TreeOptions) *Tree {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FileExtension == "" {
		opts.FileExtension = opts.Language
	}
	if opts.BlankLines < 0 {
		opts.BlankLines = 0
	}

	t := &Tree{
		path:       opts.Path,
		virtualDir: opts.VirtualDir,
		blankLines: opts.BlankLines,
		extractors: opts.Extractors,
		logger:     opts.Logger.Named("virtualdoc"),
		index:      make(map[string]*Document),
	}
	t.root = newDocument(t, HostID(opts.Path, opts.FileExtension), "", opts.Language, opts.FileExtension, false)
	t.index[t.root.idPath] = t.root
	return t
}

// HostID returns the ID path of the host document for a surface.
func HostID(path, extension string) string {
	return path + "#" + extension
}

// Path returns the surface path the tree was built for.
func (t *Tree) Path() string { return t.path }

// Root returns the host document.
func (t *Tree) Root() *Document { return t.root }

// Lookup finds a live document by ID path.
func (t *Tree) Lookup(idPath string) (*Document, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.index[idPath]
	return d, ok
}

// Documents returns every live document, host first, parents before children.
func (t *Tree) Documents() []*Document {
	var out []*Document
	var walk func(d *Document)
	walk = func(d *Document) {
		if d.Disposed() {
			return
		}
		out = append(out, d)
		for _, c := range d.Children() {
			walk(c)
		}
	}
	walk(t.root)
	return out
}

// Update recomputes the whole tree from the surface buffers. Buffers whose
// language differs from the host language are left out of the host.
// Callers serialize Update; see package update.
func (t *Tree) Update(buffers []editor.Buffer) {
	t.root.recompute(HostSources(t.root.language, buffers), false)
}

// HostSources turns the buffers belonging to language into sources.
func HostSources(language string, buffers []editor.Buffer) []Source {
	sources := make([]Source, 0, len(buffers))
	for _, b := range buffers {
		if l := b.Language(); l != "" && l != language {
			continue
		}
		sources = append(sources, Source{Editor: b.ID(), Text: b.Text()})
	}
	return sources
}

// Dispose closes every document. Foreign documents emit ForeignClosed on
// their parent before the parent's handlers are detached.
func (t *Tree) Dispose() {
	t.root.dispose()
	t.unregister(t.root.idPath)
}

// Disposed reports whether Dispose was called.
func (t *Tree) Disposed() bool {
	return t.root.Disposed()
}

func (t *Tree) register(d *Document) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.index[d.idPath]; exists {
		return fmt.Errorf("duplicate document id %q", d.idPath)
	}
	t.index[d.idPath] = d
	return nil
}

func (t *Tree) unregister(idPath string) {
	t.mu.Lock()
	delete(t.index, idPath)
	t.mu.Unlock()
}

// extract runs the extractors for language over src. It returns the host
// text with extracted regions blanked and the foreign code found.
func (t *Tree) extract(language string, src Source) (string, []extraction) {
	var found []extraction
	rs := []rune(src.Text)
	for _, e := range t.extractors {
		if e.rule.HostLanguage != language {
			continue
		}
		var blanks []span
		var err error
		found, blanks, err = e.extract(rs, src, found)
		if err != nil {
			t.logger.Warn("extractor failed",
				zap.String("language", e.rule.Language),
				zap.String("host", language),
				zap.String("editor", src.Editor),
				zap.Error(err))
		}
		rs = blankSpans(rs, blanks)
	}
	if len(found) == 0 {
		return src.Text, nil
	}
	return string(rs), found
}

// documentURI maps an ID path to a file URI inside the virtual directory.
func (t *Tree) documentURI(idPath, extension string) uri.URI {
	name := strings.ReplaceAll(idPath, "#", ".")
	if extension != "" && !strings.HasSuffix(name, "."+extension) {
		name += "." + extension
	}
	return uri.File(filepath.Join(t.virtualDir, filepath.FromSlash(name)))
}
