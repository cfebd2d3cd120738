package sysutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() {
		Log = zap.NewNop()
		LogSugar = Log.Sugar()
	})

	require.NoError(t, InitLogger(LogOptions{Level: "warn", Development: false}))
	assert.False(t, Log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Log.Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, InitLogger(LogOptions{Level: "debug", Development: true}))
	assert.True(t, Log.Core().Enabled(zapcore.DebugLevel))
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogOptions{Level: "chatty"}))
}
