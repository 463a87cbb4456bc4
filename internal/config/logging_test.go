package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/brcwallet/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected config.LogLevel
	}{
		{"off lowercase", "off", config.LogLevelOff},
		{"off uppercase", "OFF", config.LogLevelOff},
		{"none", "none", config.LogLevelOff},
		{"error lowercase", "error", config.LogLevelError},
		{"debug uppercase", "DEBUG", config.LogLevelDebug},
		{"with whitespace", "  debug  ", config.LogLevelDebug},
		{"empty returns error", "", config.LogLevelError},
		{"unknown value", "warn", config.LogLevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, config.ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "off", config.LogLevelOff.String())
	assert.Equal(t, "error", config.LogLevelError.String())
	assert.Equal(t, "debug", config.LogLevelDebug.String())
	assert.Equal(t, "error", config.LogLevel(42).String())
}

func TestLogger_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "brcwallet.log")

	logger, err := config.NewLogger(config.LogLevelError, path)
	require.NoError(t, err)

	logger.Debug("hidden %d", 1)
	logger.Error("broadcast failed: %s", "arc")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path) //nolint:gosec // test file
	require.NoError(t, err)
	assert.Contains(t, string(data), "broadcast failed: arc")
	assert.Contains(t, string(data), "level=error")
	assert.NotContains(t, string(data), "hidden")
}

func TestLogger_LevelsAndWriter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelDebug, &buf)

	logger.Debug("derived %s", "key")
	assert.Contains(t, buf.String(), "derived key")

	logger.SetLevel(config.LogLevelOff)
	assert.Equal(t, config.LogLevelOff, logger.Level())
	buf.Reset()
	logger.Error("dropped")
	assert.Empty(t, buf.String())

	logger.SetLevel(config.LogLevelDebug)
	logger.WithField("originator", "app.example.com").Info("request")
	assert.Contains(t, buf.String(), "originator=app.example.com")
}

func TestLogger_Badger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := config.NewWriterLogger(config.LogLevelError, &buf)
	bl := logger.Badger()

	bl.Infof("table compaction\n")
	bl.Warningf("slow write\n")
	assert.Empty(t, buf.String())

	bl.Errorf("value log corrupted\n")
	assert.Contains(t, buf.String(), "badger: value log corrupted")
}

func TestNullLogger(t *testing.T) {
	t.Parallel()
	logger := config.NullLogger()
	logger.Error("nothing")
	logger.Debug("nothing")
	assert.Equal(t, config.LogLevelOff, logger.Level())
	require.NoError(t, logger.Close())
}
