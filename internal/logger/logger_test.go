package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelFromString(tt.in), "level %q", tt.in)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_DEV", "1")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FILE", "")

	cfg := ConfigFromEnv()
	assert.True(t, cfg.Dev)
	assert.Equal(t, "debug", cfg.Level)
	assert.Empty(t, cfg.File)

	t.Setenv("LOG_DEV", "0")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FILE", "/var/log/users-api.log")

	cfg = ConfigFromEnv()
	assert.False(t, cfg.Dev)
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "/var/log/users-api.log", cfg.File)
}

func TestInit(t *testing.T) {
	log, err := Init(Config{Level: "info"})
	require.NoError(t, err)
	require.NotNil(t, log)

	log, err = Init(Config{Level: "debug", Dev: true})
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestInitWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users-api.log")

	log, err := Init(Config{Level: "info", File: path})
	require.NoError(t, err)

	log.Info("started")
	require.NoError(t, log.Sync())

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}
