package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WriteAppends(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "fan-monitor.log")
	require.NoError(t, os.WriteFile(filename, []byte("existing\n"), 0644))

	logger, err := NewLogger(filename)
	require.NoError(t, err)
	defer logger.Close()

	_, err = logger.Write([]byte("new line\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "existing\nnew line\n", string(data))
}

func TestLogger_Rotate(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "fan-monitor.log")

	logger, err := NewLogger(filename)
	require.NoError(t, err)
	defer logger.Close()

	_, err = logger.Write([]byte("before\n"))
	require.NoError(t, err)

	// an external rotator moves the file away, then signals
	rotated := filepath.Join(dir, "fan-monitor.log.1")
	require.NoError(t, os.Rename(filename, rotated))
	require.NoError(t, logger.Rotate())

	_, err = logger.Write([]byte("after\n"))
	require.NoError(t, err)

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Equal(t, "before\n", string(old))

	current, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "after\n", string(current))
}

func TestLogger_WriteAfterClose(t *testing.T) {
	logger, err := NewLogger(filepath.Join(t.TempDir(), "x.log"))
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	n, err := logger.Write([]byte("dropped"))
	assert.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, logger.Rotate())
	assert.NoError(t, logger.Close())
}

func TestNewLogger_BadPath(t *testing.T) {
	_, err := NewLogger(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}
