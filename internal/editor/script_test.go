package editor

import (
	"context"
	"testing"

	"github.com/annel0/map-editor/internal/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScript = `
models:
  - file: lamp.m2
    size: [1, 3, 1]
tiles:
  - [0, 0]
steps:
  - op: raise
    at: [100, 0, 100]
    radius: 10
    strength: 2
    held: [lmb]
  - op: raise
    at: [104, 0, 100]
    radius: 10
    strength: 2
    held: [lmb, shift]
  - op: end
  - op: place
    kind: model
    file: lamp.m2
    name: lamp
    at: [20, 0, 20]
  - op: move
    name: lamp
    at: [25, 0, 20]
  - op: undo
  - op: undo
  - op: goto
    index: 2
  - op: delete
    name: ghost
  - op: purge
`

func TestParseScript(t *testing.T) {
	sc, err := ParseScript([]byte(testScript))
	require.NoError(t, err)
	require.Len(t, sc.Steps, 10)
	assert.Equal(t, [3]float32{100, 0, 100}, sc.Steps[0].At)
	assert.Equal(t, []string{"lmb", "shift"}, sc.Steps[1].Held)

	_, err = ParseScript([]byte("steps:\n  - at: [1, 2, 3]\n"))
	assert.Error(t, err, "Шаг без op отклоняется")
	_, err = ParseScript([]byte("steps:\n  - op: raise\n    held: [hyper]\n"))
	assert.Error(t, err)
}

func TestParseModality(t *testing.T) {
	m, err := parseModality([]string{"LMB", "ctrl"})
	require.NoError(t, err)
	assert.Equal(t, action.ModalityLMB|action.ModalityCtrl, m)
}

func TestRunner_Run(t *testing.T) {
	sc, err := ParseScript([]byte(testScript))
	require.NoError(t, err)

	s := NewSession(Options{Models: sc.ModelSource()})
	t.Cleanup(s.Close)

	var seen int
	results := NewRunner(s).Run(context.Background(), sc, func(StepResult) { seen++ })
	require.Len(t, results, 10)
	assert.Equal(t, 10, seen)

	assert.Equal(t, 1, results[1].Len, "Два штампа с ЛКМ образуют одно действие")
	assert.True(t, results[1].Open)
	assert.False(t, results[2].Open)
	assert.Equal(t, 3, results[4].Len)
	assert.Equal(t, 2, results[6].RedoIndex)
	assert.Equal(t, 0, results[7].RedoIndex)
	assert.Error(t, results[8].Err)
	assert.Contains(t, results[8].String(), "error")
	assert.Equal(t, 0, results[9].Len)

	for i, r := range results {
		if i != 8 {
			assert.NoError(t, r.Err, "шаг %d", i)
		}
	}
}
