// internal/observability/logger_test.go
package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aviatools/unipix-etl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// memSink is a minimal in-memory WriteSyncer for capturing console output.
type memSink struct {
	strings.Builder
}

func (m *memSink) Sync() error { return nil }

func TestInitializeConsoleLogger(t *testing.T) {
	ResetForTest()
	sink := &memSink{}

	cfg := config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "test-etl",
		Colors:      config.ColorConfig{Info: "green"},
	}
	Initialize(cfg, zapcore.Lock(zapcore.AddSync(sink)))

	GetLogger().Info("pipeline started")

	output := sink.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "pipeline started")
	assert.Contains(t, output, colorGreen, "info level should be colorized green")
	assert.Contains(t, output, "test-etl.", "logger name should carry the dot suffix")
}

func TestInitializeJSONFileLogger(t *testing.T) {
	ResetForTest()
	logPath := filepath.Join(t.TempDir(), "etl.log")

	cfg := config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "test-etl",
		LogFile:     logPath,
	}
	Initialize(cfg, zapcore.Lock(zapcore.AddSync(&memSink{})))

	GetLogger().Warn("stale verification code")
	Sync()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "stale verification code", entry["msg"])
}

func TestInitializeRunsOnce(t *testing.T) {
	ResetForTest()
	first := &memSink{}
	second := &memSink{}

	Initialize(config.LoggerConfig{Level: "info", Format: "console"}, zapcore.Lock(zapcore.AddSync(first)))
	Initialize(config.LoggerConfig{Level: "info", Format: "console"}, zapcore.Lock(zapcore.AddSync(second)))

	GetLogger().Info("only the first sink sees this")
	assert.Contains(t, first.String(), "only the first sink sees this")
	assert.Empty(t, second.String())
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	sink := &memSink{}
	Initialize(config.LoggerConfig{Level: "not-a-level", Format: "console"}, zapcore.Lock(zapcore.AddSync(sink)))

	GetLogger().Debug("hidden")
	GetLogger().Info("visible")

	assert.NotContains(t, sink.String(), "hidden")
	assert.Contains(t, sink.String(), "visible")
}
