package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").Info().Int("turns", 3).Msg("evicted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "evicted", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.EqualValues(t, 3, line["turns"])
	assert.Contains(t, line, "time")
}

func TestSubAndWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").Sub("runner").With("session", "u1:s1")
	log.Debug().Msg("turn complete")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "runner", line["subsystem"])
	assert.Equal(t, "u1:s1", line["session"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Debug().Msg("debug msg")
	log.Info().Msg("info msg")
	assert.Empty(t, buf.String())

	log.Warn().Msg("warn msg")
	assert.Contains(t, buf.String(), "warn msg")
	assert.Equal(t, zerolog.WarnLevel, log.Level())
}

func TestSilentAndNop(t *testing.T) {
	var buf bytes.Buffer
	silent := New(&buf, "silent")
	silent.Error().Msg("hidden")
	assert.Empty(t, buf.String())

	// must not panic
	Nop().Sub("x").With("k", "v").Error().Msg("dropped")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
		ok    bool
	}{
		{"trace", zerolog.TraceLevel, true},
		{"DEBUG", zerolog.DebugLevel, true},
		{" info ", zerolog.InfoLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"error", zerolog.ErrorLevel, true},
		{"fatal", zerolog.FatalLevel, true},
		{"silent", zerolog.Disabled, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"verbose", zerolog.InfoLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestLevelsAllParse(t *testing.T) {
	for _, l := range Levels {
		_, ok := ParseLevel(l)
		assert.True(t, ok, l)
	}
}
