package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelFiltersHistory(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&Config{Level: LevelWarn, MaxHistory: 10, Output: &buf})
	require.NoError(t, err)

	log := l.Component("session")
	log.Info().Msg("hidden")
	log.Warn().Str("phase", "PREPARING").Msg("interrupt rejected")

	hist := l.GetHistory(0)
	require.Len(t, hist, 1)
	assert.Equal(t, "warn", hist[0].Level)
	assert.Equal(t, "session", hist[0].Component)
	assert.Equal(t, "interrupt rejected", hist[0].Message)
	assert.Equal(t, "phase=PREPARING", hist[0].Data)
	assert.Contains(t, buf.String(), "interrupt rejected")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestGetHistory_Bounded(t *testing.T) {
	l, err := New(&Config{Level: LevelDebug, MaxHistory: 3, Output: &bytes.Buffer{}})
	require.NoError(t, err)

	log := l.Component("test")
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		log.Info().Msg(msg)
	}

	hist := l.GetHistory(0)
	require.Len(t, hist, 3)
	assert.Equal(t, "c", hist[0].Message)
	assert.Equal(t, "e", hist[2].Message)

	last := l.GetHistory(1)
	require.Len(t, last, 1)
	assert.Equal(t, "e", last[0].Message)
}

func TestNew_WritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(&Config{Dir: dir, Level: LevelInfo, Output: &bytes.Buffer{}})
	require.NoError(t, err)

	c := l.Component("server")
	c.Info().Msg("listening")
	require.NoError(t, l.Close())

	require.NotEmpty(t, l.GetLogPath())
	data, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"server"`)
	assert.Contains(t, string(data), `"message":"listening"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("DEBUG").String())
	assert.Equal(t, "error", ParseLevel(LevelError).String())
	assert.Equal(t, "info", ParseLevel("verbose").String())
}

func TestNop(t *testing.T) {
	l := Nop()
	c := l.Component("x")
	c.Error().Msg("dropped")
	assert.Empty(t, l.GetHistory(0))
	assert.NoError(t, l.Close())
}
