package logger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Peakviker/RefSeller/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	log, err := logger.New("refseller-notifier", "local", logger.Config{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	_, err = logger.New("refseller-notifier", "prod", logger.Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestNewWithFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notifier.log")
	log, err := logger.New("refseller-notifier", "prod", logger.Config{
		Level:      "warn",
		Filename:   path,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
	assert.True(t, log.Core().Enabled(zap.WarnLevel))
}

func TestCtx(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	logger.Ctx(context.Background(), base).Info("no id")
	ctx := logger.WithRequestID(context.Background(), "req-1")
	logger.Ctx(ctx, base).Info("with id")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].ContextMap())
	assert.Equal(t, "req-1", entries[1].ContextMap()["request_id"])
	assert.Equal(t, "req-1", logger.RequestID(ctx))
}
