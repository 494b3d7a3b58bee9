package virtualdoc

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// ExtractorRule describes how to find code of one language embedded in another.
type ExtractorRule struct {
	// HostLanguage is the language of the document the rule runs on.
	HostLanguage string

	// Language is the LSP language identifier of the extracted code.
	Language string

	// Pattern is a .NET-style regular expression matched against each source
	// region of the host document.
	Pattern string

	// CaptureGroups lists the groups that may hold the foreign code; the
	// first one that participated in a match is used. Defaults to group 1.
	CaptureGroups []int

	// KeepInHost leaves the matched text in the host document instead of
	// blanking it.
	KeepInHost bool

	// Standalone gives every match its own virtual document instead of
	// concatenating all matches of the language.
	Standalone bool

	// FileExtension is the extension of the foreign document; defaults to Language.
	FileExtension string
}

// Extractor is a compiled ExtractorRule.
type Extractor struct {
	rule ExtractorRule
	re   *regexp2.Regexp
}

const extractorMatchTimeout = 2 * time.Second

var (
	// ErrInvalidExtractor indicates an extractor rule is incomplete.
	ErrInvalidExtractor = errors.New("invalid extractor rule")
)

// NewExtractor compiles rule.
func NewExtractor(rule ExtractorRule) (*Extractor, error) {
	if rule.HostLanguage == "" || rule.Language == "" || rule.Pattern == "" {
		return nil, fmt.Errorf("%w: host language, language and pattern are required", ErrInvalidExtractor)
	}
	if rule.HostLanguage == rule.Language {
		return nil, fmt.Errorf("%w: %s cannot embed itself", ErrInvalidExtractor, rule.Language)
	}
	if len(rule.CaptureGroups) == 0 {
		rule.CaptureGroups = []int{1}
	}
	if rule.FileExtension == "" {
		rule.FileExtension = rule.Language
	}

	re, err := regexp2.Compile(rule.Pattern, regexp2.Multiline)
	if err != nil {
		return nil, fmt.Errorf("extractor %s in %s: %w", rule.Language, rule.HostLanguage, err)
	}
	re.MatchTimeout = extractorMatchTimeout
	return &Extractor{rule: rule, re: re}, nil
}

// MustExtractor is like NewExtractor but panics on error. It is intended for
// package-level rule tables.
func MustExtractor(rule ExtractorRule) *Extractor {
	e, err := NewExtractor(rule)
	if err != nil {
		panic(err)
	}
	return e
}

// CompileExtractors compiles every rule, stopping at the first error.
func CompileExtractors(rules []ExtractorRule) ([]*Extractor, error) {
	out := make([]*Extractor, 0, len(rules))
	for _, r := range rules {
		e, err := NewExtractor(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Rule returns the normalized rule.
func (e *Extractor) Rule() ExtractorRule {
	return e.rule
}

// extraction is one piece of foreign code found in a source.
type extraction struct {
	extractor *Extractor
	source    Source
}

// extract runs e over rs, appending found code to found. It returns the
// spans of rs that must be blanked in the host.
func (e *Extractor) extract(rs []rune, src Source, found []extraction) ([]extraction, []span, error) {
	var blanks []span

	m, err := e.re.FindRunesMatch(rs)
	for m != nil && err == nil {
		if g := e.capture(m); g != nil {
			start := positionAt(rs, g.Index)
			char := start.Character
			if start.Line == 0 {
				char += src.Character
			}
			found = append(found, extraction{
				extractor: e,
				source: Source{
					Editor:    src.Editor,
					Text:      string(rs[g.Index : g.Index+g.Length]),
					Line:      src.Line + start.Line,
					Character: char,
				},
			})
			if !e.rule.KeepInHost {
				blanks = append(blanks, span{start: m.Index, end: m.Index + m.Length})
			}
		}
		m, err = e.re.FindNextMatch(m)
	}
	return found, blanks, err
}

func (e *Extractor) capture(m *regexp2.Match) *regexp2.Group {
	for _, n := range e.rule.CaptureGroups {
		g := m.GroupByNumber(n)
		if g != nil && len(g.Captures) > 0 {
			return g
		}
	}
	return nil
}

// DefaultExtractorRules returns rules for common notebook cell magics and
// HTML script blocks.
func DefaultExtractorRules() []ExtractorRule {
	return []ExtractorRule{
		{
			HostLanguage: "python",
			Language:     "r",
			Pattern:      `\A%%R\b[^\n]*\n([\s\S]*)`,
		},
		{
			HostLanguage: "python",
			Language:     "r",
			Pattern:      `^%R (.*)$`,
		},
		{
			HostLanguage:  "python",
			Language:      "html",
			Pattern:       `\A%%html\b[^\n]*\n([\s\S]*)`,
			FileExtension: "html",
		},
		{
			HostLanguage:  "python",
			Language:      "javascript",
			Pattern:       `\A%%(?:javascript|js)\b[^\n]*\n([\s\S]*)`,
			FileExtension: "js",
		},
		{
			HostLanguage:  "python",
			Language:      "shellscript",
			Pattern:       `\A%%(?:bash|sh)\b[^\n]*\n([\s\S]*)`,
			FileExtension: "sh",
		},
		{
			HostLanguage: "python",
			Language:     "sql",
			Pattern:      `\A%%sql\b[^\n]*\n([\s\S]*)`,
			Standalone:   true,
		},
		{
			HostLanguage:  "python",
			Language:      "markdown",
			Pattern:       `\A%%markdown\b[^\n]*\n([\s\S]*)`,
			FileExtension: "md",
		},
		{
			HostLanguage:  "html",
			Language:      "javascript",
			Pattern:       `<script[^>]*>([\s\S]*?)</script>`,
			FileExtension: "js",
		},
	}
}
