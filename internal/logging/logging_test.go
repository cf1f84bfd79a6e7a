package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withOptions(t *testing.T, opts Options) {
	t.Helper()
	prev := currentOptions()
	Configure(opts)
	t.Cleanup(func() { Configure(prev) })
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, TRACE, ParseLevel("trace"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("verbose"), "Неизвестный уровень даёт INFO")
	assert.Equal(t, "DEBUG", DEBUG.String())
}

func TestLogger_ConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	withOptions(t, Options{ConsoleLevel: WARN, FileLevel: TRACE, Console: &buf})

	l, err := NewLogger("undo")
	require.NoError(t, err)
	l.Info("скрыто")
	l.Warn("видно %d", 1)

	assert.NotContains(t, buf.String(), "скрыто")
	assert.Contains(t, buf.String(), "[WARN] [undo] видно 1")
}

func TestLogger_FileSink(t *testing.T) {
	dir := t.TempDir()
	withOptions(t, Options{Dir: dir, ConsoleLevel: ERROR, FileLevel: DEBUG, Console: &bytes.Buffer{}})

	l, err := NewLogger("storage")
	require.NoError(t, err)
	l.Trace("не пишется")
	l.Debug("пишется")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "storage_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "пишется")
	assert.NotContains(t, string(data), "не пишется")
}

func TestLoggerManager(t *testing.T) {
	var buf bytes.Buffer
	withOptions(t, Options{ConsoleLevel: INFO, Console: &buf})

	lm := NewLoggerManager()
	a := lm.MustGetLogger(ComponentWorld)
	b := lm.MustGetLogger(ComponentActions)
	assert.Same(t, a, lm.MustGetLogger(ComponentWorld))
	assert.Equal(t, []string{"actions", "world"}, lm.ListComponents())

	require.NoError(t, lm.SetLogLevel(ComponentActions, TRACE, TRACE))
	b.Trace("шаг")
	assert.Contains(t, buf.String(), "[TRACE] [actions] шаг")
	assert.Error(t, lm.SetLogLevel("", INFO, INFO))

	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
	assert.Equal(t, Levels{Console: TRACE, File: TRACE}, lm.LevelsOf(ComponentActions), "Пороги переживают CloseAll")
}

func TestLoggerManager_ApplyLevelsBeforeCreation(t *testing.T) {
	var buf bytes.Buffer
	withOptions(t, Options{ConsoleLevel: INFO, FileLevel: ERROR, Console: &buf})

	lm := NewLoggerManager()
	require.NoError(t, lm.ApplyLevels(map[string]Levels{
		ComponentStorage: {Console: ERROR, File: ERROR},
		ComponentActions: {Console: DEBUG, File: ERROR},
	}))
	assert.Equal(t, Levels{Console: INFO, File: ERROR}, lm.LevelsOf(ComponentWorld), "Без переопределения действуют общие пороги")

	lm.MustGetLogger(ComponentStorage).Warn("тихо")
	lm.MustGetLogger(ComponentActions).Debug("громко")
	assert.NotContains(t, buf.String(), "тихо")
	assert.Contains(t, buf.String(), "[DEBUG] [actions] громко")

	err := lm.ApplyLevels(map[string]Levels{ComponentEditor: {}, "physics": {}})
	assert.ErrorContains(t, err, "physics")
	assert.Equal(t, Levels{Console: INFO, File: ERROR}, lm.LevelsOf(ComponentEditor), "Набор с неизвестным компонентом не применяется")
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Error("ничего") })
}
