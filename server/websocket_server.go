package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"fan-monitor/monitor"
	"fan-monitor/protocol"
)

// StartOptions は WebSocketServer の起動オプションを表す
type StartOptions struct {
	// TLS証明書ファイルのパス (TLSを使用する場合)
	CertFile string
	// TLS秘密鍵ファイルのパス (TLSを使用する場合)
	KeyFile string
	// Ready is closed once the listener is bound
	Ready chan struct{}
}

// StatusProvider supplies the device table and scheduler status served to clients.
type StatusProvider interface {
	Status() monitor.Status
	Snapshot() []monitor.DeviceSnapshot
}

// Mirror receives a copy of every broadcast, e.g. an MQTT publisher.
type Mirror interface {
	Publish(event string, payload []byte) error
}

// WebSocketServer fans device updates out to WebSocket subscribers.
// It implements monitor.Broadcaster.
type WebSocketServer struct {
	ctx       context.Context
	cancel    context.CancelFunc
	transport *DefaultWebSocketTransport
	debug     bool

	status    StatusProvider
	onConnect func(ctx context.Context, connID string) error
	mirror    Mirror
}

// ServerOptions configures NewWebSocketServer.
type ServerOptions struct {
	// SecretKey, when set, is required on /ws and /status
	SecretKey string
	Debug     bool
}

var _ monitor.Broadcaster = (*WebSocketServer)(nil)

// NewWebSocketServer creates a new WebSocket server
func NewWebSocketServer(ctx context.Context, addr string, opts ServerOptions) *WebSocketServer {
	serverCtx, cancel := context.WithCancel(ctx)

	transport := NewDefaultWebSocketTransport(serverCtx, addr)
	transport.SetSecretKey(opts.SecretKey)

	ws := &WebSocketServer{
		ctx:       serverCtx,
		cancel:    cancel,
		transport: transport,
		debug:     opts.Debug,
	}

	transport.SetConnectHandler(ws.handleClientConnect)
	transport.SetMessageHandler(ws.handleClientMessage)
	transport.SetDisconnectHandler(ws.handleClientDisconnect)

	transport.Handle("/status", transport.RequireToken(http.HandlerFunc(ws.handleStatus)))
	transport.Handle("/", http.HandlerFunc(handleHealth))

	return ws
}

// SetStatusProvider sets the source of get_devices replies and /status.
func (ws *WebSocketServer) SetStatusProvider(p StatusProvider) {
	ws.status = p
}

// OnSubscriberConnect registers the callback run for every new subscriber,
// before its messages are read.
func (ws *WebSocketServer) OnSubscriberConnect(fn func(ctx context.Context, connID string) error) {
	ws.onConnect = fn
}

// SetMirror registers a second sink for broadcasts.
func (ws *WebSocketServer) SetMirror(m Mirror) {
	ws.mirror = m
}

// Transport returns the underlying transport.
func (ws *WebSocketServer) Transport() *DefaultWebSocketTransport {
	return ws.transport
}

// Start starts the WebSocket server
func (ws *WebSocketServer) Start(options StartOptions) error {
	return ws.transport.Start(options)
}

// Stop stops the WebSocket server
func (ws *WebSocketServer) Stop() error {
	ws.cancel()
	return ws.transport.Stop()
}

// Broadcast sends devices to every subscriber and to the mirror.
func (ws *WebSocketServer) Broadcast(event string, devices []monitor.DeviceSnapshot) error {
	data, err := protocol.CreateMessage(protocol.MessageType(event), protocol.DevicesUpdatePayload(devices), "")
	if err != nil {
		return fmt.Errorf("error creating broadcast message: %w", err)
	}
	if err := ws.transport.BroadcastMessage(data); err != nil {
		return err
	}

	if ws.mirror != nil {
		payload, err := json.Marshal(devices)
		if err != nil {
			return fmt.Errorf("encoding mirror payload: %w", err)
		}
		if err := ws.mirror.Publish(event, payload); err != nil {
			slog.Warn("Failed to mirror broadcast", "event", event, "err", err)
		}
	}
	return nil
}

// SendTo sends devices to a single subscriber.
func (ws *WebSocketServer) SendTo(connID string, event string, devices []monitor.DeviceSnapshot) error {
	return ws.sendMessageToClient(connID, protocol.MessageType(event), protocol.DevicesUpdatePayload(devices), "")
}

func (ws *WebSocketServer) HasSubscribers() bool {
	return ws.transport.ClientCount() > 0
}

// handleClientConnect is called when a new client connects
func (ws *WebSocketServer) handleClientConnect(connID string) error {
	if ws.debug {
		slog.Info("New WebSocket connection established", "connID", connID)
	}
	if ws.onConnect == nil {
		return nil
	}
	return ws.onConnect(ws.ctx, connID)
}

// handleClientMessage is called when a message is received from a client
func (ws *WebSocketServer) handleClientMessage(connID string, message []byte) error {
	msg, err := protocol.ParseMessage(message)
	if err != nil {
		slog.Warn("Error parsing message", "err", err, "connID", connID)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeInvalidRequestFormat,
			Message: fmt.Sprintf("Error parsing message: %v", err),
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, "")
	}

	switch msg.Type {
	case protocol.MessageTypeGetDevices:
		devices := []monitor.DeviceSnapshot{}
		if ws.status != nil {
			devices = ws.status.Snapshot()
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeDevicesUpdate, protocol.DevicesUpdatePayload(devices), msg.RequestID)
	case protocol.MessageTypeGetStatus:
		if ws.status == nil {
			return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, protocol.ErrorNotificationPayload{
				Code:    protocol.ErrorCodeInternalServerError,
				Message: "status not available",
			}, msg.RequestID)
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeStatus, ws.status.Status(), msg.RequestID)
	default:
		slog.Warn("Unknown message type", "type", msg.Type, "connID", connID)
		errorPayload := protocol.ErrorNotificationPayload{
			Code:    protocol.ErrorCodeUnknownMessageType,
			Message: fmt.Sprintf("Unknown message type: %s", msg.Type),
		}
		return ws.sendMessageToClient(connID, protocol.MessageTypeErrorNotification, errorPayload, msg.RequestID)
	}
}

// handleClientDisconnect is called when a client disconnects
func (ws *WebSocketServer) handleClientDisconnect(connID string) {
	if ws.debug {
		slog.Info("WebSocket connection closed", "connID", connID)
	}
}

// sendMessageToClient sends a message to a client
func (ws *WebSocketServer) sendMessageToClient(connID string, msgType protocol.MessageType, payload interface{}, requestID string) error {
	data, err := protocol.CreateMessage(msgType, payload, requestID)
	if err != nil {
		return fmt.Errorf("error creating message: %w", err)
	}
	return ws.transport.SendMessage(connID, data)
}

func (ws *WebSocketServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if ws.status == nil {
		http.Error(w, "status not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ws.status.Status()); err != nil {
		slog.Error("Failed to write status response", "err", err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Backend is running"))
}
