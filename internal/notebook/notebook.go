// Package notebook loads Jupyter notebooks into editing surfaces and keeps
// them in step with the file on disk.
package notebook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/nblsp/internal/editor"
)

// ErrInvalidNotebook indicates the file is not a notebook document.
var ErrInvalidNotebook = errors.New("invalid notebook")

const (
	defaultLanguage  = "python"
	defaultExtension = "py"
)

// CellKind is the Jupyter cell type.
type CellKind string

const (
	CellCode     CellKind = "code"
	CellMarkdown CellKind = "markdown"
	CellRaw      CellKind = "raw"
)

// Cell is one notebook cell.
type Cell struct {
	ID     string
	Kind   CellKind
	Source string

	// Language is empty for code cells in the kernel language.
	Language string
}

// Notebook is the part of an .ipynb document that is synchronized.
type Notebook struct {
	// Language is the kernel language as an LSP language identifier.
	Language string

	// FileExtension is the kernel language's file extension, without a dot.
	FileExtension string

	Cells []Cell
}

// Load reads and parses a notebook file.
func Load(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notebook: %w", err)
	}
	nb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return nb, nil
}

// Parse parses nbformat 4 JSON.
func Parse(data []byte) (*Notebook, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidNotebook)
	}
	doc := gjson.ParseBytes(data)
	cells := doc.Get("cells")
	if !cells.IsArray() {
		return nil, fmt.Errorf("%w: no cells array", ErrInvalidNotebook)
	}

	nb := &Notebook{
		Language:      kernelLanguage(doc),
		FileExtension: kernelExtension(doc),
	}
	for i, c := range cells.Array() {
		cell := Cell{
			ID:     c.Get("id").String(),
			Kind:   CellKind(c.Get("cell_type").String()),
			Source: source(c.Get("source")),
		}
		if cell.ID == "" {
			cell.ID = fmt.Sprintf("cell-%d", i)
		}
		switch cell.Kind {
		case CellCode:
			if lang := c.Get("metadata.vscode.languageId").String(); lang != "" && lang != nb.Language {
				cell.Language = lang
			}
		case CellMarkdown:
			cell.Language = "markdown"
		default:
			cell.Kind = CellRaw
			cell.Language = "plaintext"
		}
		nb.Cells = append(nb.Cells, cell)
	}
	return nb, nil
}

func kernelLanguage(doc gjson.Result) string {
	for _, path := range []string{"metadata.language_info.name", "metadata.kernelspec.language"} {
		if lang := strings.ToLower(doc.Get(path).String()); lang != "" {
			return lang
		}
	}
	return defaultLanguage
}

func kernelExtension(doc gjson.Result) string {
	if ext := strings.TrimPrefix(doc.Get("metadata.language_info.file_extension").String(), "."); ext != "" {
		return ext
	}
	if kernelLanguage(doc) == defaultLanguage {
		return defaultExtension
	}
	return kernelLanguage(doc)
}

// source joins a cell source, which nbformat stores as a string or a list
// of lines.
func source(r gjson.Result) string {
	if !r.IsArray() {
		return r.String()
	}
	var b strings.Builder
	r.ForEach(func(_, line gjson.Result) bool {
		b.WriteString(line.String())
		return true
	})
	return b.String()
}

// Buffers converts the cells into editor buffers.
func (nb *Notebook) Buffers() []*editor.Cell {
	out := make([]*editor.Cell, len(nb.Cells))
	for i, c := range nb.Cells {
		out[i] = editor.NewCell(c.ID, c.Language, c.Source)
	}
	return out
}

// SurfacePath derives the surface path of a notebook file: the path without
// its extension, so virtual documents are named after the notebook.
func SurfacePath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// Open loads a notebook into a new in-memory surface.
func Open(path string) (*editor.MemorySurface, *Notebook, error) {
	nb, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	s := editor.NewMemorySurface(SurfacePath(path), nb.Language, nb.FileExtension)
	for _, c := range nb.Buffers() {
		if err := s.AppendCell(c.ID(), c.Language(), c.Text()); err != nil {
			return nil, nil, err
		}
	}
	return s, nb, nil
}

// Apply brings s in line with nb with the smallest set of surface events:
// a language change, per-cell text edits when the cell layout is unchanged,
// otherwise a full reload. It reports whether anything changed.
func Apply(s *editor.MemorySurface, nb *Notebook) (bool, error) {
	changed := false
	if s.Language() != nb.Language || s.FileExtension() != nb.FileExtension {
		s.SetLanguage(nb.Language, nb.FileExtension)
		changed = true
	}

	current := s.Buffers()
	if !sameLayout(current, nb.Cells) {
		s.Reload(nb.Buffers())
		return true, nil
	}
	for i, c := range nb.Cells {
		if current[i].Text() == c.Source {
			continue
		}
		if err := s.SetText(c.ID, c.Source); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

func sameLayout(buffers []editor.Buffer, cells []Cell) bool {
	if len(buffers) != len(cells) {
		return false
	}
	for i, b := range buffers {
		if b.ID() != cells[i].ID || b.Language() != cells[i].Language {
			return false
		}
	}
	return true
}
