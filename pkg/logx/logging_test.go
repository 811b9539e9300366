package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, Nop().IsZero())
}

func TestServiceWritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	svc, log := New(Config{Level: "debug", Writer: &buf})
	defer svc.Close()

	log.With(String("component", "engine")).Debug("tick", Int("due", 3))
	log.Fatal("boom", Err(assert.AnError))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "debug", first["level"])
	assert.Equal(t, "engine", first["component"])
	assert.EqualValues(t, 3, first["due"])
	assert.Contains(t, first["caller"], "logging_test.go")

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "fatal", second["level"])
	assert.Equal(t, assert.AnError.Error(), second["err"])
}

func TestApplyChangesLevel(t *testing.T) {
	var buf bytes.Buffer
	svc, log := New(Config{Level: "info", Writer: &buf})
	defer svc.Close()

	log.Debug("hidden")
	assert.False(t, log.Enabled(LevelDebug))
	svc.Apply(Config{Level: "debug", Writer: &buf})
	assert.True(t, log.Enabled(LevelDebug))
	log.Debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
