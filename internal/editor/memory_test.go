package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySurface_Events(t *testing.T) {
	s := NewMemorySurface("nb", "python", "py")

	var names []string
	s.Subscribe(func(ev Event) { names = append(names, EventName(ev)) })

	require.NoError(t, s.AppendCell("c1", "", "x = 1"))
	require.NoError(t, s.SetText("c1", "x = 2"))
	s.Save()
	s.Rename("nb2")
	s.SetLanguage("r", "r")
	s.Reload(nil)
	s.Dispose()
	s.Dispose()

	assert.Equal(t, []string{
		"content-changed",
		"content-changed",
		"save-state-changed",
		"save-state-changed",
		"path-changed",
		"language-changed",
		"reloaded",
		"disposed",
	}, names)
	assert.Equal(t, "nb2", s.Path())
	assert.Equal(t, "r", s.Language())
}

func TestMemorySurface_BuffersSnapshot(t *testing.T) {
	s := NewMemorySurface("nb", "python", "py")
	require.NoError(t, s.AppendCell("c1", "", "a"))
	require.NoError(t, s.AppendCell("c2", "markdown", "# b"))

	snap := s.Buffers()
	require.NoError(t, s.SetText("c1", "changed"))
	require.NoError(t, s.RemoveCell("c2"))

	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Text())
	assert.Equal(t, "markdown", snap[1].Language())
	assert.Len(t, s.Buffers(), 1)
}

func TestMemorySurface_Errors(t *testing.T) {
	s := NewMemorySurface("nb", "python", "py")
	require.NoError(t, s.AppendCell("c1", "", ""))

	assert.Error(t, s.AppendCell("c1", "", ""))
	assert.Error(t, s.SetText("missing", "x"))
	assert.Error(t, s.RemoveCell("missing"))
}

func TestSaveState_String(t *testing.T) {
	assert.Equal(t, "started", SaveStarted.String())
	assert.Equal(t, "completed", SaveCompleted.String())
	assert.Equal(t, "failed", SaveFailed.String())
	assert.Equal(t, "unknown", SaveState(42).String())
}
