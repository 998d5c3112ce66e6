package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fan-monitor/monitor"
	"fan-monitor/protocol"
	"fan-monitor/server"
)

type staticStatus struct {
	devices []monitor.DeviceSnapshot
	status  monitor.Status
}

func (s *staticStatus) Status() monitor.Status             { return s.status }
func (s *staticStatus) Snapshot() []monitor.DeviceSnapshot { return s.devices }

func startServer(t *testing.T, secretKey string) (*server.WebSocketServer, string) {
	t.Helper()
	ws := server.NewWebSocketServer(context.Background(), ":0", server.ServerOptions{SecretKey: secretKey})
	httpServer := httptest.NewServer(ws.Transport().Handler())
	t.Cleanup(httpServer.Close)
	return ws, "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
}

func connect(t *testing.T, url, token string) *WebSocketClient {
	t.Helper()
	c, err := NewWebSocketClient(context.Background(), url, token)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitForSubscriber(t *testing.T, ws *server.WebSocketServer) {
	t.Helper()
	require.Eventually(t, ws.HasSubscribers, time.Second, 10*time.Millisecond)
}

func TestNewWebSocketClientRejectsBadURL(t *testing.T) {
	_, err := NewWebSocketClient(context.Background(), "http://localhost:5000/ws", "")
	assert.Error(t, err)

	_, err = NewWebSocketClient(context.Background(), "://nope", "")
	assert.Error(t, err)
}

func TestRequestDevicesAndStatus(t *testing.T) {
	ws, url := startServer(t, "")
	ws.SetStatusProvider(&staticStatus{
		devices: []monitor.DeviceSnapshot{
			{Name: "Bedroom", Model: "Core300S", PowerState: monitor.PowerOn},
		},
		status: monitor.Status{State: "ready", IntervalSeconds: 10, Devices: 1},
	})
	c := connect(t, url, "")

	assert.True(t, c.LastUpdate().IsZero())

	devices, err := c.RequestDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Bedroom", devices[0].Name)
	assert.True(t, devices[0].IsOn())
	assert.Equal(t, devices, c.Devices())
	assert.False(t, c.LastUpdate().IsZero())

	status, err := c.RequestStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", status.State)
	assert.Equal(t, 1, status.Devices)
}

func TestRequestStatusWithoutProvider(t *testing.T) {
	_, url := startServer(t, "")
	c := connect(t, url, "")

	_, err := c.RequestStatus(context.Background())
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.ErrorCodeInternalServerError, serverErr.Code)
}

func TestUpdatesFromBroadcast(t *testing.T) {
	ws, url := startServer(t, "")
	c := connect(t, url, "")
	waitForSubscriber(t, ws)

	sent := []monitor.DeviceSnapshot{
		{Name: "Bedroom", Model: "Core300S", PowerState: monitor.PowerOff},
		{Name: "Office", Model: "Core200S", PowerState: monitor.PowerOn},
	}
	require.NoError(t, ws.Broadcast(monitor.EventDevicesUpdate, sent))

	select {
	case got := <-c.Updates():
		require.Len(t, got, 2)
		assert.Equal(t, "Office", got[1].Name)
		assert.Equal(t, monitor.PowerOn, got[1].PowerState)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}
	assert.Len(t, c.Devices(), 2)
}

func TestTokenIsSent(t *testing.T) {
	ws, url := startServer(t, "s3cret")

	bad, err := NewWebSocketClient(context.Background(), url, "wrong")
	require.NoError(t, err)
	assert.Error(t, bad.Connect())

	connect(t, url, "s3cret")
	waitForSubscriber(t, ws)
}

func TestDoneAfterServerStops(t *testing.T) {
	ws, url := startServer(t, "")
	c := connect(t, url, "")
	waitForSubscriber(t, ws)

	require.NoError(t, ws.Stop())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the closed connection")
	}

	_, err := c.RequestDevices(context.Background())
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
}

func TestRequestHonorsContext(t *testing.T) {
	_, url := startServer(t, "")
	c := connect(t, url, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The reply may race with the cancellation; either outcome is fine
	// as long as the call returns promptly.
	done := make(chan struct{})
	go func() {
		_, _ = c.RequestDevices(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("request ignored the canceled context")
	}
}
