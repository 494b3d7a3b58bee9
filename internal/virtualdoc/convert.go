package virtualdoc

import (
	"strings"
	"unicode/utf16"
)

// Position is a zero-based line/character location inside a document value.
// Character counts UTF-16 code units, matching LSP.
type Position struct {
	Line      int
	Character int
}

// Before reports whether p sorts before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// utf16Len returns the number of UTF-16 code units needed to encode s.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// runesUTF16Len returns the UTF-16 length of rs.
func runesUTF16Len(rs []rune) int {
	n := 0
	for _, r := range rs {
		n += utf16.RuneLen(r)
	}
	return n
}

// positionAt returns the line and UTF-16 column of rune index idx in rs.
func positionAt(rs []rune, idx int) Position {
	if idx > len(rs) {
		idx = len(rs)
	}
	line, lineStart := 0, 0
	for i := 0; i < idx; i++ {
		if rs[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	return Position{Line: line, Character: runesUTF16Len(rs[lineStart:idx])}
}

// lineCount returns the number of lines in s; an empty string has one line.
func lineCount(s string) int {
	return strings.Count(s, "\n") + 1
}

// lastLineLen returns the UTF-16 length of the final line of s.
func lastLineLen(s string) int {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return utf16Len(s)
}

// lineText returns line n of s without its terminator, or "" if out of range.
func lineText(s string, n int) string {
	if n < 0 {
		return ""
	}
	for i := 0; i < n; i++ {
		j := strings.IndexByte(s, '\n')
		if j < 0 {
			return ""
		}
		s = s[j+1:]
	}
	if j := strings.IndexByte(s, '\n'); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSuffix(s, "\r")
}

// span is a half-open rune range.
type span struct {
	start int
	end   int
}

// blankSpans replaces every rune inside spans, except line terminators, with
// spaces. Spans must be sorted and must not overlap. Runes outside the Basic
// Multilingual Plane become two spaces so UTF-16 columns are preserved; the
// result may therefore be longer than rs.
func blankSpans(rs []rune, spans []span) []rune {
	if len(spans) == 0 {
		return rs
	}
	out := make([]rune, 0, len(rs))
	prev := 0
	for _, sp := range spans {
		out = append(out, rs[prev:sp.start]...)
		for _, r := range rs[sp.start:sp.end] {
			switch {
			case r == '\n' || r == '\r':
				out = append(out, r)
			case utf16.RuneLen(r) == 2:
				out = append(out, ' ', ' ')
			default:
				out = append(out, ' ')
			}
		}
		prev = sp.end
	}
	return append(out, rs[prev:]...)
}
