package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogManager_WritesAndRotates(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "fan-monitor.log")

	lm, err := NewLogManager(filename, false)
	require.NoError(t, err)

	logger := slog.New(lm.Handler())
	logger.Debug("hidden")
	logger.Info("Scheduler state changed", "from", "connecting", "to", "ready")

	rotated := filepath.Join(dir, "fan-monitor.log.1")
	require.NoError(t, os.Rename(filename, rotated))
	lm.signalCh <- os.Interrupt

	require.Eventually(t, func() bool {
		_, err := os.Stat(filename)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	logger.Info("after rotation")
	require.NoError(t, lm.Close())

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Contains(t, string(old), "to=ready")
	assert.NotContains(t, string(old), "hidden")

	current, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(current), "after rotation")
}

func TestLogManager_DebugLevel(t *testing.T) {
	lm, err := NewLogManager(filepath.Join(t.TempDir(), "debug.log"), true)
	require.NoError(t, err)
	defer lm.Close()

	assert.True(t, lm.Handler().Enabled(context.Background(), slog.LevelDebug))
}
