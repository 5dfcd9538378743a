package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLoggerConfig(t *testing.T) {
	cfg, err := ParseLoggerConfig([]byte(`
level: debug
format: text
component: flow
attrs:
  app: demo
`))
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "flow", cfg.Component)
	assert.Equal(t, "demo", cfg.Attrs["app"])
}

func TestParseLoggerConfig_Invalid(t *testing.T) {
	_, err := ParseLoggerConfig([]byte("level: loud"))
	assert.Error(t, err)

	_, err = ParseLoggerConfig([]byte("format: xml"))
	assert.Error(t, err)
}

func TestNewLogger_JSONAttributes(t *testing.T) {
	var buf bytes.Buffer

	cfg := DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.Component = "runner"

	l := With(NewLogger(cfg), "invocation_id", "e-1")
	l.Info("runner.event.appended", "event_id", "ev-1")
	l.Debug("dropped")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "runner.event.appended", rec["msg"])
	assert.Equal(t, "runner", rec["component"])
	assert.Equal(t, "e-1", rec["invocation_id"])
	assert.Equal(t, "ev-1", rec["event_id"])
}

type recordingLogger struct {
	NoOpLogger
	args []any
}

func (r *recordingLogger) Warn(_ string, args ...any) { r.args = args }

func TestWith_NonSlogLogger(t *testing.T) {
	rec := &recordingLogger{}
	With(rec, "a", 1).Warn("x", "b", 2)
	assert.Equal(t, []any{"a", 1, "b", 2}, rec.args)
}
