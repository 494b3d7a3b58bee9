package virtualdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExtractor_Validation(t *testing.T) {
	tests := []struct {
		name string
		rule ExtractorRule
	}{
		{"missing host", ExtractorRule{Language: "r", Pattern: "x"}},
		{"missing language", ExtractorRule{HostLanguage: "python", Pattern: "x"}},
		{"missing pattern", ExtractorRule{HostLanguage: "python", Language: "r"}},
		{"self embedding", ExtractorRule{HostLanguage: "python", Language: "python", Pattern: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor(tt.rule)
			assert.ErrorIs(t, err, ErrInvalidExtractor)
		})
	}

	_, err := NewExtractor(ExtractorRule{HostLanguage: "python", Language: "r", Pattern: "("})
	assert.Error(t, err)
}

func TestNewExtractor_Defaults(t *testing.T) {
	e, err := NewExtractor(ExtractorRule{HostLanguage: "python", Language: "r", Pattern: `%R (.*)`})
	require.NoError(t, err)

	rule := e.Rule()
	assert.Equal(t, []int{1}, rule.CaptureGroups)
	assert.Equal(t, "r", rule.FileExtension)
}

func TestExtractor_FirstParticipatingGroup(t *testing.T) {
	e := MustExtractor(ExtractorRule{
		HostLanguage:  "python",
		Language:      "r",
		Pattern:       `^(?:%R (.*)|%%R\n([\s\S]*))$`,
		CaptureGroups: []int{1, 2},
	})

	found, blanks, err := e.extract([]rune("%%R\nx <- 1"), Source{Editor: "c1"}, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "x <- 1", found[0].source.Text)
	assert.Equal(t, 1, found[0].source.Line)
	assert.Equal(t, 0, found[0].source.Character)
	assert.Equal(t, []span{{start: 0, end: 10}}, blanks)
}

func TestExtractor_SourceOffsetsCarryOver(t *testing.T) {
	e := MustExtractor(ExtractorRule{HostLanguage: "html", Language: "javascript", Pattern: `<script>([\s\S]*?)</script>`})

	src := Source{Editor: "c1", Line: 4, Character: 6}
	found, _, err := e.extract([]rune("<script>a()</script>"), src, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, Source{Editor: "c1", Text: "a()", Line: 4, Character: 14}, found[0].source)
}

func TestDefaultExtractorRules_Compile(t *testing.T) {
	extractors, err := CompileExtractors(DefaultExtractorRules())
	require.NoError(t, err)
	assert.Len(t, extractors, len(DefaultExtractorRules()))
}

func TestMustExtractor_Panics(t *testing.T) {
	assert.Panics(t, func() { MustExtractor(ExtractorRule{}) })
}

func TestBlankSpans(t *testing.T) {
	out := blankSpans([]rune("ab\ncd😀e"), []span{{start: 1, end: 3}, {start: 4, end: 6}})
	assert.Equal(t, "a \nc   e", string(out))
	assert.Equal(t, runesUTF16Len([]rune("ab\ncd😀e")), runesUTF16Len(out))
}

func TestLineText(t *testing.T) {
	assert.Equal(t, "b", lineText("a\nb\r\nc", 1))
	assert.Equal(t, "c", lineText("a\nb\r\nc", 2))
	assert.Equal(t, "", lineText("a", 3))
	assert.Equal(t, "", lineText("a", -1))
}
