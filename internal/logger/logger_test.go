package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Envs(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev", "docker", "test"} {
		l, err := NewLogger(env)
		require.NoError(t, err, env)
		assert.NotNil(t, l, env)
	}

	_, err := NewLogger("staging")
	assert.Error(t, err)
}

func TestNewLogger_LevelOverride(t *testing.T) {
	l, err := NewLogger("prod", "warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger("prod", "loud")
	assert.Error(t, err)
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}

func TestWith_AddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := ContextWithLogger(context.Background(), zap.New(core))

	ctx = With(ctx, zap.String("session_id", "s-1"))
	FromContext(ctx).Info("input")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "s-1", logs.All()[0].ContextMap()["session_id"])
}
