package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fan-monitor/protocol"
)

// captureTransport records broadcasts; every other method is a no-op.
type captureTransport struct {
	mu       sync.Mutex
	messages [][]byte
	onSend   func()
}

func (c *captureTransport) Start(StartOptions) error { return nil }
func (c *captureTransport) Stop() error { return nil }
func (c *captureTransport) SetMessageHandler(func(connID string, message []byte) error) {}
func (c *captureTransport) SetConnectHandler(func(connID string) error) {}
func (c *captureTransport) SetDisconnectHandler(func(connID string)) {}
func (c *captureTransport) SendMessage(string, []byte) error { return nil }
func (c *captureTransport) ClientCount() int { return 1 }

func (c *captureTransport) BroadcastMessage(message []byte) error {
	c.mu.Lock()
	c.messages = append(c.messages, message)
	onSend := c.onSend
	c.mu.Unlock()
	if onSend != nil {
		onSend()
	}
	return nil
}

func (c *captureTransport) payloads(t *testing.T) []protocol.LogNotificationPayload {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.LogNotificationPayload
	for _, data := range c.messages {
		msg, err := protocol.ParseMessage(data)
		require.NoError(t, err)
		require.Equal(t, protocol.MessageTypeLogNotification, msg.Type)
		var p protocol.LogNotificationPayload
		require.NoError(t, protocol.ParsePayload(msg, &p))
		out = append(out, p)
	}
	return out
}

func TestBroadcastHandler_OnlyAboveMinLevel(t *testing.T) {
	var buf bytes.Buffer
	transport := &captureTransport{}
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewBroadcastHandler(inner, transport, slog.LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("Upstream refresh failed", "err", errors.New("timeout"), "consecutive_failures", 2,
		"duration", 1500*time.Millisecond)
	logger.Error("Recovered from panic", "loop", "refresh")

	assert.Contains(t, buf.String(), "debug message", "inner handler sees every record")
	assert.Contains(t, buf.String(), "info message")

	payloads := transport.payloads(t)
	require.Len(t, payloads, 2)
	assert.Equal(t, "WARN", payloads[0].Level)
	assert.Equal(t, "Upstream refresh failed", payloads[0].Message)
	assert.Equal(t, "timeout", payloads[0].Attributes["err"])
	assert.Equal(t, float64(2), payloads[0].Attributes["consecutive_failures"])
	assert.Equal(t, "1.5s", payloads[0].Attributes["duration"])
	assert.Equal(t, "ERROR", payloads[1].Level)
}

func TestBroadcastHandler_WithAttrsKeepsBroadcasting(t *testing.T) {
	transport := &captureTransport{}
	inner := slog.NewTextHandler(&bytes.Buffer{}, nil)
	logger := slog.New(NewBroadcastHandler(inner, transport, slog.LevelError)).With("component", "scheduler")

	logger.WithGroup("upstream").Error("login failed")

	assert.Len(t, transport.payloads(t), 1)
}

func TestBroadcastHandler_DoesNotRecurse(t *testing.T) {
	transport := &captureTransport{}
	handler := NewBroadcastHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), transport, slog.LevelWarn)
	logger := slog.New(handler)
	transport.onSend = func() {
		logger.Error("Error broadcasting message to client")
	}

	logger.Error("first")

	assert.Len(t, transport.payloads(t), 1)
}

func TestBroadcastHandler_EnabledFollowsInner(t *testing.T) {
	inner := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := NewBroadcastHandler(inner, nil, slog.LevelWarn)

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.NoError(t, h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelError, "no transport", 0)))
}
