package rowset

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func captureLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewLogger(handler), &buf
}

func TestLoggerFieldHelpers(t *testing.T) {
	log, buf := captureLogger()

	log.WithGeneration(7).WithPath("delta_0000000007").Info("archived delta file")

	out := buf.String()
	assert.Contains(t, out, "generation=7")
	assert.Contains(t, out, "path=delta_0000000007")
	assert.Contains(t, out, "archived delta file")
}

func TestLoggerLogOpen(t *testing.T) {
	log, buf := captureLogger()

	log.LogOpen("delta_0000000001", 1, nil)
	assert.Contains(t, buf.String(), "opened delta file")
	assert.Contains(t, buf.String(), "generation=1")

	buf.Reset()
	log.LogOpen("delta_0000000002", 2, errors.New("bad magic"))
	assert.Contains(t, buf.String(), "failed to open delta file")
	assert.Contains(t, buf.String(), "bad magic")
}

func TestLoggerLogFlush(t *testing.T) {
	log, buf := captureLogger()

	log.LogFlush(3, 42, 5*time.Millisecond, nil)
	assert.Contains(t, buf.String(), "flushed delta file")
	assert.Contains(t, buf.String(), "deltas=42")

	buf.Reset()
	log.LogFlush(4, 1, time.Millisecond, errors.New("disk full"))
	assert.Contains(t, buf.String(), "flush failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestNoopLoggerDiscards(t *testing.T) {
	// The no-op logger must not panic and must not write anywhere visible.
	log := NoopLogger()
	log.Info("dropped")
	log.WithGeneration(1).WithPath("x").Error("also dropped")
}
