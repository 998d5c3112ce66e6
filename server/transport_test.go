package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TestPingPeriodLessThanPongWait verifies the critical requirement
func TestPingPeriodLessThanPongWait(t *testing.T) {
	if pingPeriod >= pongWait {
		t.Errorf("pingPeriod (%v) must be less than pongWait (%v) for heartbeat to work correctly", pingPeriod, pongWait)
	}
}

// TestTimeoutConstants verifies timeout constants have reasonable values
func TestTimeoutConstants(t *testing.T) {
	tests := []struct {
		name     string
		value    time.Duration
		minValue time.Duration
		maxValue time.Duration
	}{
		{name: "writeWait", value: writeWait, minValue: 1 * time.Second, maxValue: 60 * time.Second},
		{name: "pongWait", value: pongWait, minValue: 10 * time.Second, maxValue: 5 * time.Minute},
		{name: "pingPeriod", value: pingPeriod, minValue: 5 * time.Second, maxValue: 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value < tt.minValue {
				t.Errorf("%s (%v) is too small, minimum recommended is %v", tt.name, tt.value, tt.minValue)
			}
			if tt.value > tt.maxValue {
				t.Errorf("%s (%v) is too large, maximum recommended is %v", tt.name, tt.value, tt.maxValue)
			}
		})
	}
}

// TestNewDefaultWebSocketTransport verifies transport creation
func TestNewDefaultWebSocketTransport(t *testing.T) {
	transport := NewDefaultWebSocketTransport(context.Background(), ":8080")

	if transport.clients == nil {
		t.Error("clients map should be initialized")
	}
	if transport.Addr() != nil {
		t.Error("Addr should be nil before Start")
	}
	if transport.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", transport.ClientCount())
	}
}

// TestTransportContextCancellation verifies context cancellation
func TestTransportContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := NewDefaultWebSocketTransport(ctx, ":0")

	cancel()

	select {
	case <-transport.ctx.Done():
	default:
		t.Error("Transport context should be done after cancel")
	}
}

// TestBroadcastMessageToNoClients verifies broadcast with no clients
func TestBroadcastMessageToNoClients(t *testing.T) {
	transport := NewDefaultWebSocketTransport(context.Background(), ":0")

	if err := transport.BroadcastMessage([]byte("test message")); err != nil {
		t.Errorf("BroadcastMessage to no clients should not error, got: %v", err)
	}
}

// TestSendMessageToNonExistentClient verifies error handling
func TestSendMessageToNonExistentClient(t *testing.T) {
	transport := NewDefaultWebSocketTransport(context.Background(), ":0")

	err := transport.SendMessage("non-existent-id", []byte("test message"))
	if err == nil {
		t.Fatal("SendMessage to non-existent client should error")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Error should mention 'not found', got: %v", err)
	}
}

func dialTransport(t *testing.T, server *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

// TestWebSocketIntegration drives a real connection through the transport
func TestWebSocketIntegration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transport := NewDefaultWebSocketTransport(ctx, ":0")

	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	messageReceived := make(chan []byte, 1)

	transport.SetConnectHandler(func(connID string) error {
		connected <- connID
		return nil
	})
	transport.SetMessageHandler(func(connID string, message []byte) error {
		messageReceived <- message
		return transport.SendMessage(connID, []byte("echo:"+string(message)))
	})
	transport.SetDisconnectHandler(func(connID string) {
		disconnected <- connID
	})

	server := httptest.NewServer(transport.Handler())
	defer server.Close()

	conn, _, err := dialTransport(t, server, "")
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	var connID string
	select {
	case connID = <-connected:
		if _, err := uuid.Parse(connID); err != nil {
			t.Errorf("Connection ID %q is not a UUID: %v", connID, err)
		}
	case <-time.After(time.Second):
		t.Fatal("Connect handler was not called")
	}
	if got := transport.ClientCount(); got != 1 {
		t.Errorf("ClientCount = %d, want 1", got)
	}

	testMessage := []byte(`{"type":"get_devices"}`)
	if err := conn.WriteMessage(websocket.TextMessage, testMessage); err != nil {
		t.Fatalf("Failed to send message: %v", err)
	}

	select {
	case msg := <-messageReceived:
		if string(msg) != string(testMessage) {
			t.Errorf("Received message %q, want %q", string(msg), string(testMessage))
		}
	case <-time.After(time.Second):
		t.Fatal("Message handler was not called")
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read reply: %v", err)
	}
	if string(reply) != "echo:"+string(testMessage) {
		t.Errorf("reply = %q", reply)
	}

	if err := transport.BroadcastMessage([]byte("to all")); err != nil {
		t.Fatalf("BroadcastMessage: %v", err)
	}
	_, broadcast, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}
	if string(broadcast) != "to all" {
		t.Errorf("broadcast = %q", broadcast)
	}

	conn.Close()

	select {
	case id := <-disconnected:
		if id != connID {
			t.Errorf("disconnected %q, want %q", id, connID)
		}
	case <-time.After(time.Second):
		t.Error("Disconnect handler was not called")
	}
	if got := transport.ClientCount(); got != 0 {
		t.Errorf("ClientCount after disconnect = %d, want 0", got)
	}
}

func TestWebSocketRequiresSecretKey(t *testing.T) {
	transport := NewDefaultWebSocketTransport(context.Background(), ":0")
	transport.SetSecretKey("s3cret")

	server := httptest.NewServer(transport.Handler())
	defer server.Close()

	_, resp, err := dialTransport(t, server, "")
	if err == nil {
		t.Fatal("connection without token should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	conn, _, err := dialTransport(t, server, "?token=s3cret")
	if err != nil {
		t.Fatalf("connection with token failed: %v", err)
	}
	conn.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer s3cret")
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err = websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("connection with bearer token failed: %v", err)
	}
	conn.Close()
}

func TestConnectHandlerErrorClosesConnection(t *testing.T) {
	transport := NewDefaultWebSocketTransport(context.Background(), ":0")
	transport.SetConnectHandler(func(connID string) error {
		return context.DeadlineExceeded
	})

	server := httptest.NewServer(transport.Handler())
	defer server.Close()

	conn, _, err := dialTransport(t, server, "")
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the server to close the connection")
	}
}

// TestPingDoneChannelStopsPingGoroutine tests graceful shutdown
func TestPingDoneChannelStopsPingGoroutine(t *testing.T) {
	transport := NewDefaultWebSocketTransport(context.Background(), ":0")
	client := &clientConnection{pingDone: make(chan struct{})}

	stopped := make(chan struct{})
	go func() {
		transport.pingLoop("test", client)
		close(stopped)
	}()

	close(client.pingDone)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("Ping goroutine did not stop within timeout")
	}
}

func TestStartAndStop(t *testing.T) {
	transport := NewDefaultWebSocketTransport(context.Background(), "127.0.0.1:0")
	ready := make(chan struct{})

	var wg sync.WaitGroup
	var startErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		startErr = transport.Start(StartOptions{Ready: ready})
	}()

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("server did not become ready")
	}
	if transport.Addr() == nil {
		t.Fatal("Addr should be set after Start")
	}

	if err := transport.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	wg.Wait()
	if startErr != nil {
		t.Errorf("Start returned %v after Stop", startErr)
	}
}
