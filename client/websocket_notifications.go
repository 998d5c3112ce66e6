package client

import (
	"fmt"
	"log/slog"
	"time"

	"fan-monitor/monitor"
	"fan-monitor/protocol"
)

// handleNotification handles a notification from the WebSocket server
func (c *WebSocketClient) handleNotification(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MessageTypeDevicesUpdate:
		c.handleDevicesUpdate(msg)
	case protocol.MessageTypeLogNotification:
		c.handleLogNotification(msg)
	case protocol.MessageTypeErrorNotification:
		c.handleErrorNotification(msg)
	default:
		slog.Debug("Ignoring message", "type", msg.Type)
	}
}

// handleDevicesUpdate handles a devices_update message
func (c *WebSocketClient) handleDevicesUpdate(msg *protocol.Message) {
	devices, err := c.storeDevices(msg)
	if err != nil {
		slog.Warn("Error parsing devices_update payload", "err", err)
		return
	}

	select {
	case c.updates <- devices:
	default:
		slog.Debug("Update channel full, dropping update")
	}
}

// storeDevices replaces the cached list with the payload of msg.
func (c *WebSocketClient) storeDevices(msg *protocol.Message) ([]monitor.DeviceSnapshot, error) {
	var payload protocol.DevicesUpdatePayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		return nil, fmt.Errorf("error parsing devices_update payload: %w", err)
	}
	devices := []monitor.DeviceSnapshot(payload)
	if devices == nil {
		devices = []monitor.DeviceSnapshot{}
	}

	c.devicesMutex.Lock()
	c.devices = devices
	c.lastUpdate = time.Now()
	c.devicesMutex.Unlock()

	result := make([]monitor.DeviceSnapshot, len(devices))
	copy(result, devices)
	return result, nil
}

// handleLogNotification handles a log_notification message
func (c *WebSocketClient) handleLogNotification(msg *protocol.Message) {
	var payload protocol.LogNotificationPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		slog.Debug("Error parsing log_notification payload", "err", err)
		return
	}

	select {
	case c.logs <- payload:
	default:
	}
}

// handleErrorNotification handles an error_notification message
func (c *WebSocketClient) handleErrorNotification(msg *protocol.Message) {
	var payload protocol.ErrorNotificationPayload
	if err := protocol.ParsePayload(msg, &payload); err != nil {
		slog.Debug("Error parsing error_notification payload", "err", err)
		return
	}
	slog.Warn("Error notification", "code", payload.Code, "message", payload.Message)
}
