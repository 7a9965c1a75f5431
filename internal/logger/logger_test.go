package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(&Config{Level: "debug", Format: "json", Output: buf, ServiceName: "test"})
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &out))
	return out
}

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithFields(Fields{
		FieldRequestID: "req-1",
		FieldJobID:     "job_1",
	}).WithContext(context.Background())

	CtxDebug(ctx, "stage %s done", "load")
	line := lastLine(t, &buf)
	assert.Equal(t, "stage load done", line["message"])
	assert.Equal(t, "req-1", line[FieldRequestID])
	assert.Equal(t, "job_1", line[FieldJobID])
	assert.Equal(t, "test", line["service"])
	assert.Equal(t, "debug", line["level"])
}

func TestEntryMetricFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithContext(context.Background())

	With(Fields{FieldStatus: 202}).WithDuration(15).Warn(ctx, "slow")
	line := lastLine(t, &buf)
	assert.Equal(t, "warning", line["level"])
	assert.EqualValues(t, 202, line[FieldStatus])
	assert.EqualValues(t, 15, line[FieldDurationMs])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: "warn", Format: "text", Output: &buf, ServiceName: "test"})
	log.Info("hidden")
	assert.Zero(t, buf.Len())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
