package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*RouterLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: level, Format: "json", Output: &buf})
	return l, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	return m
}

func TestRouterLogger_KeyValues(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	l.WithComponent("engine").WithConversation("conv-1", "turn-1").Info("turn started", "agent", "FireAgent")

	rec := decodeLine(t, buf)
	assert.Equal(t, "turn started", rec["msg"])
	assert.Equal(t, "engine", rec["component"])
	assert.Equal(t, "conv-1", rec["conversation_id"])
	assert.Equal(t, "turn-1", rec["turn_id"])
	assert.Equal(t, "FireAgent", rec["agent"])
}

func TestRouterLogger_LevelFilter(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Info("hidden")
	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestRouterLogger_WithContextDoesNotLeak(t *testing.T) {
	base, buf := newBufferLogger(LogLevelInfo)
	_ = base.WithContext("k", "v")

	base.Info("plain")
	rec := decodeLine(t, buf)
	_, ok := rec["k"]
	assert.False(t, ok)
}

func TestRouterLogger_LogDispatch(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.LogDispatch("FireAgent", 20*time.Millisecond, "remote_error", errors.New("timeout"))

	rec := decodeLine(t, buf)
	assert.Equal(t, "dispatch failed", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "timeout", rec["error"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	assert.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
}
