package virtualdoc

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/uri"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/nblsp/internal/editor"
)

const testVirtualDir = "/tmp/nblsp-virtual"

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	rules := DefaultExtractorRules()
	for i := range rules {
		if rules[i].HostLanguage == "html" {
			rules[i].KeepInHost = true
		}
	}
	extractors, err := CompileExtractors(rules)
	require.NoError(t, err)

	return NewTree(TreeOptions{
		Path:          "nb",
		Language:      "python",
		FileExtension: "py",
		VirtualDir:    testVirtualDir,
		BlankLines:    DefaultBlankLines,
		Extractors:    extractors,
		Logger:        zaptest.NewLogger(t),
	})
}

// cells builds buffers from id/text pairs.
func cells(pairs ...string) []editor.Buffer {
	var out []editor.Buffer
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, editor.NewCell(pairs[i], "", pairs[i+1]))
	}
	return out
}

type recorder struct {
	events []string
}

func (r *recorder) watch(d *Document) {
	d.Changed.Connect(func(x *Document) { r.events = append(r.events, "changed:"+x.IDPath()) })
	d.ForeignOpened.Connect(func(c *Document) {
		r.events = append(r.events, "opened:"+c.IDPath())
		r.watch(c)
	})
	d.ForeignClosed.Connect(func(c *Document) { r.events = append(r.events, "closed:"+c.IDPath()) })
}

func TestTree_HostDocument(t *testing.T) {
	tree := newTestTree(t)
	host := tree.Root()

	assert.Equal(t, "nb#py", host.IDPath())
	assert.True(t, host.IsHost())
	assert.Equal(t, int32(0), host.Version())

	tree.Update(cells("c1", "import os", "c2", "x = 1\ny = 2"))

	assert.Equal(t, "import os\n\n\nx = 1\ny = 2", host.Value())
	info := host.Info()
	assert.Equal(t, uri.File(filepath.Join(testVirtualDir, "nb.py")), info.URI)
	assert.Equal(t, "python", info.LanguageID)
	assert.Equal(t, int32(1), info.Version)
	assert.Empty(t, host.Children())
	assert.Equal(t, "y = 2", host.LineText(4))
}

func TestTree_VersionOnlyBumpsOnChange(t *testing.T) {
	tree := newTestTree(t)
	host := tree.Root()

	var changes int
	host.Changed.Connect(func(*Document) { changes++ })

	tree.Update(cells("c1", "a = 1"))
	tree.Update(cells("c1", "a = 1"))
	assert.Equal(t, int32(1), host.Version())
	assert.Equal(t, 1, changes)

	tree.Update(cells("c1", "a = 2"))
	assert.Equal(t, int32(2), host.Version())
	assert.Equal(t, 2, changes)
}

func TestTree_SkipsOtherLanguageBuffers(t *testing.T) {
	tree := newTestTree(t)
	tree.Update([]editor.Buffer{
		editor.NewCell("c1", "", "a = 1"),
		editor.NewCell("md", "markdown", "# Title"),
		editor.NewCell("c2", "python", "b = 2"),
	})
	assert.Equal(t, "a = 1\n\n\nb = 2", tree.Root().Value())
}

func TestTree_CellMagicExtraction(t *testing.T) {
	tree := newTestTree(t)
	host := tree.Root()

	tree.Update(cells("c1", "x = 1", "c2", "%%R\nlibrary(dplyr)\nprint(x)"))

	assert.Equal(t, "x = 1\n\n\n   \n"+strings.Repeat(" ", 14)+"\n"+strings.Repeat(" ", 8), host.Value())

	children := host.Children()
	require.Len(t, children, 1)
	r := children[0]
	assert.Equal(t, "nb#py.r", r.IDPath())
	assert.Equal(t, "r", r.Language())
	assert.Equal(t, "library(dplyr)\nprint(x)", r.Value())
	assert.Equal(t, int32(1), r.Version())
	assert.Equal(t, uri.File(filepath.Join(testVirtualDir, "nb.py.r")), r.URI())

	parent, ok := r.Parent()
	require.True(t, ok)
	assert.Same(t, host, parent)

	found, ok := tree.Lookup("nb#py.r")
	require.True(t, ok)
	assert.Same(t, r, found)
}

func TestTree_LineMagicExtraction(t *testing.T) {
	tree := newTestTree(t)
	tree.Update(cells("c1", "a = 1\n%R y <- 2\nb = 3"))

	host := tree.Root()
	assert.Equal(t, "a = 1\n"+strings.Repeat(" ", 9)+"\nb = 3", host.Value())

	r, ok := host.Child("nb#py.r")
	require.True(t, ok)
	assert.Equal(t, "y <- 2", r.Value())
}

func TestTree_BlankingPreservesUTF16Columns(t *testing.T) {
	tree := newTestTree(t)
	tree.Update(cells("c1", "%%R\nx <- '😀'"))

	host := tree.Root()
	assert.Equal(t, strings.Repeat(" ", 9), host.LineText(1))

	r, ok := host.Child("nb#py.r")
	require.True(t, ok)
	assert.Equal(t, "x <- '😀'", r.Value())
}

func TestTree_StandaloneDocuments(t *testing.T) {
	tree := newTestTree(t)
	tree.Update(cells("c1", "%%sql\nSELECT 1", "c2", "%%sql\nSELECT 2"))

	children := tree.Root().Children()
	require.Len(t, children, 2)
	assert.Equal(t, "nb#py.sql-1", children[0].IDPath())
	assert.Equal(t, "SELECT 1", children[0].Value())
	assert.True(t, children[0].Standalone())
	assert.Equal(t, "nb#py.sql-2", children[1].IDPath())
	assert.Equal(t, "SELECT 2", children[1].Value())
	assert.Equal(t, uri.File(filepath.Join(testVirtualDir, "nb.py.sql-1.sql")), children[0].URI())
}

func TestTree_ConcatenatesBlocksOfOneLanguage(t *testing.T) {
	tree := newTestTree(t)
	tree.Update(cells("c1", "%%R\na <- 1", "c2", "b = 2", "c3", "%%R\nb <- 2"))

	r, ok := tree.Root().Child("nb#py.r")
	require.True(t, ok)
	assert.Equal(t, "a <- 1\n\n\nb <- 2", r.Value())
}

func TestTree_NestedForeignDocuments(t *testing.T) {
	tree := newTestTree(t)
	rec := &recorder{}
	rec.watch(tree.Root())

	tree.Update(cells("c1", "%%html\n<div></div>\n<script>let a = 1;</script>"))

	html, ok := tree.Lookup("nb#py.html")
	require.True(t, ok)
	assert.Equal(t, "<div></div>\n<script>let a = 1;</script>", html.Value())

	js, ok := tree.Lookup("nb#py.html.js")
	require.True(t, ok)
	assert.Equal(t, "let a = 1;", js.Value())
	assert.Equal(t, "javascript", js.Language())

	parent, ok := js.Parent()
	require.True(t, ok)
	assert.Same(t, html, parent)

	docs := tree.Documents()
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"nb#py", "nb#py.html", "nb#py.html.js"},
		[]string{docs[0].IDPath(), docs[1].IDPath(), docs[2].IDPath()})

	// Grandchildren are built silently with their parent.
	assert.Equal(t, []string{"opened:nb#py.html", "changed:nb#py"}, rec.events)
}

func TestTree_SignalOrderAcrossReappearance(t *testing.T) {
	tree := newTestTree(t)
	rec := &recorder{}
	rec.watch(tree.Root())

	tree.Update(cells("c1", "x = 1", "c2", "%%R\nprint(x)"))
	first, ok := tree.Lookup("nb#py.r")
	require.True(t, ok)

	tree.Update(cells("c1", "x = 1", "c2", "x = 2"))
	assert.True(t, first.Disposed())
	_, ok = tree.Lookup("nb#py.r")
	assert.False(t, ok)

	tree.Update(cells("c1", "x = 1", "c2", "%%R\nprint(x)"))
	second, ok := tree.Lookup("nb#py.r")
	require.True(t, ok)
	assert.NotSame(t, first, second)

	assert.Equal(t, []string{
		"opened:nb#py.r",
		"changed:nb#py",
		"closed:nb#py.r",
		"changed:nb#py",
		"opened:nb#py.r",
		"changed:nb#py",
	}, rec.events)
}

func TestTree_ChildChangeLeavesHostAlone(t *testing.T) {
	tree := newTestTree(t)
	rec := &recorder{}
	rec.watch(tree.Root())

	tree.Update(cells("c1", "%%R\nprint(x)"))
	hostVersion := tree.Root().Version()
	rec.events = nil

	tree.Update(cells("c1", "%%R\nprint(y)"))

	assert.Equal(t, hostVersion, tree.Root().Version())
	assert.Equal(t, []string{"changed:nb#py.r"}, rec.events)

	r, _ := tree.Lookup("nb#py.r")
	assert.Equal(t, int32(2), r.Version())
}

func TestTree_Dispose(t *testing.T) {
	tree := newTestTree(t)
	tree.Update(cells("c1", "%%html\n<script>1</script>", "c2", "%%R\nx"))

	var closed []string
	tree.Root().ForeignClosed.Connect(func(c *Document) { closed = append(closed, c.IDPath()) })

	tree.Dispose()
	tree.Dispose()

	assert.Equal(t, []string{"nb#py.html", "nb#py.r"}, closed)
	assert.True(t, tree.Disposed())
	_, ok := tree.Lookup("nb#py.html.js")
	assert.False(t, ok)
	assert.Empty(t, tree.Documents())

	// Updates after disposal are ignored.
	tree.Update(cells("c1", "y = 1"))
	assert.Empty(t, tree.Root().Children())
}

func TestHostID(t *testing.T) {
	assert.Equal(t, "notebooks/a.ipynb#py", HostID("notebooks/a.ipynb", "py"))
}
