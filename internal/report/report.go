// Package report renders the synchronization state of a surface for the
// command line.
package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"go.lsp.dev/protocol"

	"github.com/dshills/nblsp/internal/controller"
	"github.com/dshills/nblsp/internal/feature"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

// Document is one virtual document as reported.
type Document struct {
	ID       string
	Language string
	URI      string
	Version  int32
	Phase    string
	Lines    int
}

// Report is a snapshot of a controller.
type Report struct {
	Path        string
	Documents   []Document
	Diagnostics []feature.Diagnostic
}

// FromTree snapshots a tree that is not synchronized with any server.
func FromTree(path string, tree *virtualdoc.Tree) Report {
	r := Report{Path: path}
	if tree == nil {
		return r
	}
	for _, doc := range tree.Documents() {
		r.Documents = append(r.Documents, document(doc, ""))
	}
	return r
}

// FromController snapshots c. Diagnostics come from the diagnostics feature
// of every connected document.
func FromController(path string, c *controller.Controller) Report {
	r := Report{Path: path}
	tree := c.Tree()
	if tree == nil {
		return r
	}
	for _, doc := range tree.Documents() {
		r.Documents = append(r.Documents, document(doc, c.Phase(doc.IDPath()).String()))

		bundle, ok := c.Bundle(doc.IDPath())
		if !ok {
			continue
		}
		if f, ok := bundle.Feature(feature.DiagnosticsName); ok {
			if d, ok := f.(*feature.Diagnostics); ok {
				r.Diagnostics = append(r.Diagnostics, d.All()...)
			}
		}
	}
	sort.SliceStable(r.Diagnostics, func(i, j int) bool {
		a, b := r.Diagnostics[i].Start, r.Diagnostics[j].Start
		if a.Editor != b.Editor {
			return a.Editor < b.Editor
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Character < b.Character
	})
	return r
}

func document(doc *virtualdoc.Document, phase string) Document {
	info := doc.Info()
	return Document{
		ID:       doc.IDPath(),
		Language: doc.Language(),
		URI:      string(info.URI),
		Version:  info.Version,
		Phase:    phase,
		Lines:    lineCount(doc.Value()),
	}
}

// Errors counts error-severity diagnostics.
func (r Report) Errors() int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Severity == protocol.DiagnosticSeverityError {
			n++
		}
	}
	return n
}

// JSON renders the report as indented JSON.
func (r Report) JSON() ([]byte, error) {
	out := []byte(`{"documents":[],"diagnostics":[]}`)
	set := func(path string, v any) error {
		var err error
		out, err = sjson.SetBytes(out, path, v)
		return err
	}

	if err := set("path", r.Path); err != nil {
		return nil, err
	}
	for i, d := range r.Documents {
		prefix := fmt.Sprintf("documents.%d.", i)
		for _, kv := range []struct {
			key string
			val any
		}{
			{"id", d.ID},
			{"language", d.Language},
			{"uri", d.URI},
			{"version", d.Version},
			{"phase", d.Phase},
			{"lines", d.Lines},
		} {
			if err := set(prefix+kv.key, kv.val); err != nil {
				return nil, err
			}
		}
	}
	for i, d := range r.Diagnostics {
		prefix := fmt.Sprintf("diagnostics.%d.", i)
		for _, kv := range []struct {
			key string
			val any
		}{
			{"document", d.Document},
			{"cell", d.Start.Editor},
			{"start.line", d.Start.Line},
			{"start.character", d.Start.Character},
			{"end.line", d.End.Line},
			{"end.character", d.End.Character},
			{"severity", severityName(d.Severity)},
			{"source", d.Source},
			{"message", d.Message},
		} {
			if err := set(prefix+kv.key, kv.val); err != nil {
				return nil, err
			}
		}
	}
	if err := set("summary.errors", r.Errors()); err != nil {
		return nil, err
	}
	return pretty.Pretty(out), nil
}

// WriteDocuments writes the documents as an aligned table.
func (r Report) WriteDocuments(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLANGUAGE\tVERSION\tLINES\tPHASE")
	for _, d := range r.Documents {
		phase := d.Phase
		if phase == "" {
			phase = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", d.ID, d.Language, d.Version, d.Lines, phase)
	}
	return tw.Flush()
}

// WriteDiagnostics writes one line per diagnostic: cell:line:col severity message.
// Lines and columns are one-based.
func (r Report) WriteDiagnostics(w io.Writer) error {
	for _, d := range r.Diagnostics {
		source := ""
		if d.Source != "" {
			source = " [" + d.Source + "]"
		}
		if _, err := fmt.Fprintf(w, "%s:%d:%d: %s: %s%s\n",
			d.Start.Editor, d.Start.Line+1, d.Start.Character+1,
			severityName(d.Severity), d.Message, source); err != nil {
			return err
		}
	}
	return nil
}

func severityName(s protocol.DiagnosticSeverity) string {
	switch s {
	case protocol.DiagnosticSeverityError:
		return "error"
	case protocol.DiagnosticSeverityWarning:
		return "warning"
	case protocol.DiagnosticSeverityInformation:
		return "info"
	case protocol.DiagnosticSeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

func lineCount(s string) int {
	n := 1
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
		}
	}
	return n
}
