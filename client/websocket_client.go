// Package client subscribes to a fan-monitor server over WebSocket and
// keeps the most recent device list it was sent.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fan-monitor/monitor"
	"fan-monitor/protocol"
)

const (
	requestTimeout = 10 * time.Second
	channelBuffer  = 16
)

// ErrClosed is returned by requests made after the connection went away.
var ErrClosed = errors.New("connection closed")

// ServerError is an error_notification received in reply to a request.
type ServerError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// WebSocketClient is a subscriber of the devices_update stream.
type WebSocketClient struct {
	ctx       context.Context
	cancel    context.CancelFunc
	transport WebSocketClientTransport

	devices      []monitor.DeviceSnapshot
	lastUpdate   time.Time
	devicesMutex sync.RWMutex

	requestID       int
	requestIDMutex  sync.Mutex
	responseCh      map[string]chan *protocol.Message
	responseChMutex sync.Mutex

	updates chan []monitor.DeviceSnapshot
	logs    chan protocol.LogNotificationPayload
	done    chan struct{}
}

// NewWebSocketClient creates a client for serverURL. token may be empty
// when the server runs without a secret key.
func NewWebSocketClient(ctx context.Context, serverURL, token string) (*WebSocketClient, error) {
	transport, err := NewDefaultWebSocketClientTransport(serverURL, token)
	if err != nil {
		return nil, err
	}
	return NewWebSocketClientWithTransport(ctx, transport), nil
}

// NewWebSocketClientWithTransport creates a client over an existing transport.
func NewWebSocketClientWithTransport(ctx context.Context, transport WebSocketClientTransport) *WebSocketClient {
	clientCtx, cancel := context.WithCancel(ctx)
	return &WebSocketClient{
		ctx:        clientCtx,
		cancel:     cancel,
		transport:  transport,
		responseCh: make(map[string]chan *protocol.Message),
		updates:    make(chan []monitor.DeviceSnapshot, channelBuffer),
		logs:       make(chan protocol.LogNotificationPayload, channelBuffer),
		done:       make(chan struct{}),
	}
}

// Connect connects to the WebSocket server and starts reading messages.
func (c *WebSocketClient) Connect() error {
	if err := c.transport.Connect(c.ctx); err != nil {
		return fmt.Errorf("error connecting to WebSocket server: %w", err)
	}
	go c.listenForMessages()
	return nil
}

// Close closes the WebSocket connection
func (c *WebSocketClient) Close() error {
	c.cancel()
	return c.transport.Close()
}

// Done is closed once the connection has ended.
func (c *WebSocketClient) Done() <-chan struct{} {
	return c.done
}

// Updates delivers every unsolicited devices_update. Updates are dropped
// while the channel is full; Devices always has the latest one.
func (c *WebSocketClient) Updates() <-chan []monitor.DeviceSnapshot {
	return c.updates
}

// Logs delivers log_notification messages.
func (c *WebSocketClient) Logs() <-chan protocol.LogNotificationPayload {
	return c.logs
}

// Devices returns the last device list received.
func (c *WebSocketClient) Devices() []monitor.DeviceSnapshot {
	c.devicesMutex.RLock()
	defer c.devicesMutex.RUnlock()
	result := make([]monitor.DeviceSnapshot, len(c.devices))
	copy(result, c.devices)
	return result
}

// LastUpdate returns when the device list was last received, or the zero
// time if it never was.
func (c *WebSocketClient) LastUpdate() time.Time {
	c.devicesMutex.RLock()
	defer c.devicesMutex.RUnlock()
	return c.lastUpdate
}

// RequestDevices asks the server for its current table.
func (c *WebSocketClient) RequestDevices(ctx context.Context) ([]monitor.DeviceSnapshot, error) {
	response, err := c.sendRequest(ctx, protocol.MessageTypeGetDevices, struct{}{})
	if err != nil {
		return nil, err
	}
	if response.Type != protocol.MessageTypeDevicesUpdate {
		return nil, fmt.Errorf("unexpected reply %s to get_devices", response.Type)
	}
	devices, err := c.storeDevices(response)
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// RequestStatus asks the server for the scheduler status.
func (c *WebSocketClient) RequestStatus(ctx context.Context) (monitor.Status, error) {
	response, err := c.sendRequest(ctx, protocol.MessageTypeGetStatus, struct{}{})
	if err != nil {
		return monitor.Status{}, err
	}
	if response.Type != protocol.MessageTypeStatus {
		return monitor.Status{}, fmt.Errorf("unexpected reply %s to get_status", response.Type)
	}
	var status protocol.StatusPayload
	if err := protocol.ParsePayload(response, &status); err != nil {
		return monitor.Status{}, fmt.Errorf("error parsing status payload: %w", err)
	}
	return status, nil
}

func (c *WebSocketClient) listenForMessages() {
	defer func() {
		c.failPending()
		close(c.done)
	}()

	for {
		// Read a message
		_, message, err := c.transport.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Error reading message", "err", err)
			}
			return
		}

		// Parse the message
		msg, err := protocol.ParseMessage(message)
		if err != nil {
			slog.Debug("Error parsing message", "err", err)
			continue
		}

		// Handle the message
		if msg.RequestID != "" {
			// This is a response to a request
			c.responseChMutex.Lock()
			if ch, ok := c.responseCh[msg.RequestID]; ok {
				ch <- msg
				delete(c.responseCh, msg.RequestID)
			}
			c.responseChMutex.Unlock()
			continue
		}

		// This is a notification
		c.handleNotification(msg)
	}
}

// failPending wakes every request still waiting for a reply.
func (c *WebSocketClient) failPending() {
	c.responseChMutex.Lock()
	defer c.responseChMutex.Unlock()
	for id, ch := range c.responseCh {
		close(ch)
		delete(c.responseCh, id)
	}
}

// sendRequest sends a request to the WebSocket server and waits for a response
func (c *WebSocketClient) sendRequest(ctx context.Context, msgType protocol.MessageType, payload interface{}) (*protocol.Message, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	// Generate a request ID
	c.requestIDMutex.Lock()
	c.requestID++
	requestID := fmt.Sprintf("req-%d", c.requestID)
	c.requestIDMutex.Unlock()

	// Create a channel for the response
	responseCh := make(chan *protocol.Message, 1)
	c.responseChMutex.Lock()
	c.responseCh[requestID] = responseCh
	c.responseChMutex.Unlock()

	forget := func() {
		c.responseChMutex.Lock()
		delete(c.responseCh, requestID)
		c.responseChMutex.Unlock()
	}

	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		forget()
		return nil, fmt.Errorf("error creating message: %w", err)
	}
	if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
		forget()
		return nil, fmt.Errorf("error sending message: %w", err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	// Wait for the response
	select {
	case response, ok := <-responseCh:
		if !ok {
			return nil, ErrClosed
		}
		if response.Type == protocol.MessageTypeErrorNotification {
			var payload protocol.ErrorNotificationPayload
			if err := protocol.ParsePayload(response, &payload); err != nil {
				return nil, fmt.Errorf("error parsing error_notification payload: %w", err)
			}
			return nil, &ServerError{Code: payload.Code, Message: payload.Message}
		}
		return response, nil
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("timeout waiting for %s response", msgType)
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-c.ctx.Done():
		forget()
		return nil, ErrClosed
	}
}
