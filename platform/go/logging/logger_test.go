package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerEmitsCloudLoggingFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "worker", Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("workflow compensated", zap.String("tenant_id", "t-1"))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "workflow compensated", entry["message"])
	require.Equal(t, "worker", entry["component"])
	require.Equal(t, "t-1", entry["tenant_id"])
	require.Contains(t, entry, "timestamp")
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "chatty"})
	require.Error(t, err)
}
