package logging

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json by default", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, "", "")
		require.NoError(t, err)
		logger.Info("hello", "mode", "car")
		assert.Contains(t, buf.String(), `"msg":"hello"`)
		assert.Contains(t, buf.String(), `"mode":"car"`)
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, "text", "debug")
		require.NoError(t, err)
		logger.Debug("hello")
		assert.Contains(t, buf.String(), "level=DEBUG")
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		_, err := New(&bytes.Buffer{}, "xml", "info")
		assert.Error(t, err)
		_, err = New(&bytes.Buffer{}, "json", "loud")
		assert.Error(t, err)
	})
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogError(logger, "write failed", assert.AnError, slog.String("sink", "hbw_modeshare.csv"))

	output := buf.String()
	assert.Contains(t, output, `"level":"ERROR"`)
	assert.Contains(t, output, `"msg":"write failed"`)
	assert.Contains(t, output, `"sink":"hbw_modeshare.csv"`)
	assert.Contains(t, output, assert.AnError.Error())

	assert.NotPanics(t, func() { LogError(nil, "ignored", assert.AnError) })
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogOperation(logger, "iteration_calibrated",
		slog.Int("iteration", 3),
		slog.Duration("duration", 0))

	output := buf.String()
	assert.Contains(t, output, `"iteration":3`)
	assert.NotContains(t, output, `"duration"`)

	buf.Reset()
	LogOperation(logger, "iteration_calibrated", slog.Duration("duration", time.Second))
	assert.Contains(t, buf.String(), `"duration"`)
}

type errorCloser struct{ err error }

func (e *errorCloser) Close() error { return e.err }

func TestSafeCloseWithLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	SafeCloseWithLogging(&errorCloser{}, logger, "close_sink")
	assert.Empty(t, buf.String())

	SafeCloseWithLogging(&errorCloser{err: assert.AnError}, logger, "close_sink")
	assert.Contains(t, buf.String(), `"msg":"failed to close resource"`)
	assert.Contains(t, buf.String(), `"operation":"close_sink"`)
}

func TestOrDefault(t *testing.T) {
	assert.Same(t, slog.Default(), OrDefault(nil))
	l := NewStructuredLogger(&bytes.Buffer{}, slog.LevelInfo)
	assert.Same(t, l, OrDefault(l))
}
