package feature

import (
	"context"
	"errors"
	"sync"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/dshills/nblsp/internal/editor"
	"github.com/dshills/nblsp/internal/event"
	"github.com/dshills/nblsp/internal/virtualdoc"
)

// DiagnosticsName is the name of the diagnostics feature.
const DiagnosticsName = "diagnostics"

// Diagnostic is a server diagnostic located in the editor buffers.
type Diagnostic struct {
	// Document is the ID path of the virtual document it was reported for.
	Document string

	Start    editor.Position
	End      editor.Position
	Severity protocol.DiagnosticSeverity
	Source   string
	Message  string
}

// Diagnostics collects the diagnostics published for one document and maps
// them back to buffer positions. Diagnostics whose start lies outside every
// synchronized region are dropped.
type Diagnostics struct {
	doc    *virtualdoc.Document
	mapper *virtualdoc.Mapper
	logger *zap.Logger
	uri    protocol.DocumentURI
	sub    event.Subscription

	mu     sync.RWMutex
	raw    []protocol.Diagnostic
	mapped []Diagnostic

	// Changed fires whenever the mapped diagnostics were replaced.
	Changed *event.Signal[*Diagnostics]
}

// NewDiagnostics is the Factory of the diagnostics feature.
func NewDiagnostics(fc Context) (Feature, error) {
	if fc.Document == nil || fc.Connection == nil || fc.Mapper == nil {
		return nil, errors.New("diagnostics need a document, connection and mapper")
	}
	logger := fc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Diagnostics{
		doc:     fc.Document,
		mapper:  fc.Mapper,
		logger:  logger,
		uri:     protocol.DocumentURI(fc.Connection.URI()),
		Changed: event.NewSignal[*Diagnostics](fc.Document.IDPath() + ":diagnostics"),
	}
	d.sub = fc.Connection.Session().Diagnostics.Connect(d.publish)
	return d, nil
}

// Name implements Feature.
func (d *Diagnostics) Name() string { return DiagnosticsName }

func (d *Diagnostics) publish(params *protocol.PublishDiagnosticsParams) {
	if params.URI != d.uri {
		return
	}
	d.mu.Lock()
	d.raw = append([]protocol.Diagnostic(nil), params.Diagnostics...)
	d.mapped = d.remap(d.raw)
	d.mu.Unlock()

	d.Changed.Emit(d)
}

// AfterChange re-maps the last published diagnostics onto the new layout.
func (d *Diagnostics) AfterChange(_ context.Context, _ Change) error {
	d.mu.Lock()
	d.mapped = d.remap(d.raw)
	d.mu.Unlock()
	return nil
}

func (d *Diagnostics) remap(raw []protocol.Diagnostic) []Diagnostic {
	out := make([]Diagnostic, 0, len(raw))
	for _, diag := range raw {
		start, ok := d.mapper.VirtualToRoot(d.doc, toPosition(diag.Range.Start))
		if !ok {
			d.logger.Debug("dropping unmappable diagnostic",
				zap.String("document", d.doc.IDPath()),
				zap.String("message", diag.Message))
			continue
		}
		end, ok := d.mapper.VirtualToRoot(d.doc, toPosition(diag.Range.End))
		if !ok || end.Editor != start.Editor {
			end = start
		}
		out = append(out, Diagnostic{
			Document: d.doc.IDPath(),
			Start:    start,
			End:      end,
			Severity: diag.Severity,
			Source:   diag.Source,
			Message:  diag.Message,
		})
	}
	return out
}

func toPosition(p protocol.Position) virtualdoc.Position {
	return virtualdoc.Position{Line: int(p.Line), Character: int(p.Character)}
}

// All returns the mapped diagnostics.
func (d *Diagnostics) All() []Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Diagnostic(nil), d.mapped...)
}

// ForEditor returns the mapped diagnostics located in one buffer.
func (d *Diagnostics) ForEditor(editorID string) []Diagnostic {
	var out []Diagnostic
	for _, diag := range d.All() {
		if diag.Start.Editor == editorID {
			out = append(out, diag)
		}
	}
	return out
}

// Dispose implements Feature.
func (d *Diagnostics) Dispose() {
	d.sub.Cancel()
	d.Changed.DisconnectAll()
	d.mu.Lock()
	d.raw, d.mapped = nil, nil
	d.mu.Unlock()
}
