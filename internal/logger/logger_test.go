package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"docmeta/internal/logger"
)

func TestInit(t *testing.T) {
	require.NoError(t, logger.Init("warn", "json"))

	l := logger.Named("test")
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestInit_InvalidLevel(t *testing.T) {
	assert.Error(t, logger.Init("loud", "console"))
}
