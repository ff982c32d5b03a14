package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewLogger(t *testing.T) {
	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{Level: LogLevelInfo, Format: LogFormatText, Output: &buf})

		logger.Info("cycle complete", "settled", 3)

		assert.Contains(t, buf.String(), "cycle complete")
		assert.Contains(t, buf.String(), "settled=3")
	})

	t.Run("json format with service attributes", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{
			Level:          LogLevelInfo,
			Format:         LogFormatJSON,
			Output:         &buf,
			ServiceName:    "circulum-worker",
			ServiceVersion: "1.2.0",
		})

		logger.Info("scheduler started")

		entry := decodeLine(t, &buf)
		assert.Equal(t, "scheduler started", entry["msg"])
		assert.Equal(t, "circulum-worker", entry["service"])
		assert.Equal(t, "1.2.0", entry["version"])
	})

	t.Run("respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{Level: LogLevelWarn, Format: LogFormatText, Output: &buf})

		logger.Info("info message")
		logger.Warn("tick skipped")

		assert.NotContains(t, buf.String(), "info message")
		assert.Contains(t, buf.String(), "tick skipped")
	})

	t.Run("adds ids from context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{Level: LogLevelInfo, Format: LogFormatJSON, Output: &buf})

		ctx := WithRequestID(WithCorrelationID(context.Background(), "corr-123"), "req-456")
		logger.InfoContext(ctx, "plan created")

		entry := decodeLine(t, &buf)
		assert.Equal(t, "corr-123", entry[CorrelationIDKey])
		assert.Equal(t, "req-456", entry[RequestIDKey])
	})

	t.Run("context ids survive With", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{Level: LogLevelInfo, Format: LogFormatJSON, Output: &buf}).
			With("component", "bus")

		logger.InfoContext(WithCorrelationID(context.Background(), "corr-9"), "drained")

		entry := decodeLine(t, &buf)
		assert.Equal(t, "bus", entry["component"])
		assert.Equal(t, "corr-9", entry[CorrelationIDKey])
	})
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, LogFormatText, cfg.Format)
	assert.Equal(t, "circulum", cfg.ServiceName)

	prod := ProductionLogConfig()
	assert.Equal(t, LogFormatJSON, prod.Format)
	assert.True(t, prod.AddSource)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogOperation(logger, "settle", "subscription_id", "sub-1").Info("attempt")

	assert.Contains(t, buf.String(), "operation=settle")
	assert.Contains(t, buf.String(), "subscription_id=sub-1")
}

func TestOrDefault(t *testing.T) {
	assert.Same(t, slog.Default(), OrDefault(nil))

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, l, OrDefault(l))
}

func TestContextIDs(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	assert.NotEmpty(t, CorrelationIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))
}

func TestContextAttrs(t *testing.T) {
	assert.Empty(t, ContextAttrs(context.Background()))

	ctx := WithRequestID(WithCorrelationID(context.Background(), ""), "req-1")
	attrs := ContextAttrs(ctx)
	require.Len(t, attrs, 2)
	assert.Equal(t, CorrelationIDKey, attrs[0].Key)
	assert.Len(t, attrs[0].Value.String(), 36)
	assert.Equal(t, RequestIDKey, attrs[1].Key)
	assert.Equal(t, "req-1", attrs[1].Value.String())
}
