package protocol

import (
	"encoding/json"
	"time"

	"fan-monitor/monitor"
)

// MessageType defines the type of message being sent between client and server
type MessageType string

const (
	// Server -> Client message types
	MessageTypeDevicesUpdate     MessageType = monitor.EventDevicesUpdate
	MessageTypeLogNotification   MessageType = "log_notification"
	MessageTypeErrorNotification MessageType = "error_notification"
	MessageTypeStatus            MessageType = "status"

	// Client -> Server message types
	MessageTypeGetDevices MessageType = "get_devices"
	MessageTypeGetStatus  MessageType = "get_status"
)

// ErrorCode defines error codes for error messages
type ErrorCode string

const (
	ErrorCodeInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	ErrorCodeUnknownMessageType   ErrorCode = "UNKNOWN_MESSAGE_TYPE"
	ErrorCodeInternalServerError  ErrorCode = "INTERNAL_SERVER_ERROR"
)

// Message is the base structure for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId,omitempty"`
}

// DevicesUpdatePayload is the payload for the devices_update message:
// every known device, ordered by name.
type DevicesUpdatePayload []monitor.DeviceSnapshot

// LogNotificationPayload is the payload for the log_notification message
type LogNotificationPayload struct {
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Time       time.Time      `json:"time"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ErrorNotificationPayload is the payload for the error_notification message
type ErrorNotificationPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// StatusPayload is the payload for the status message
type StatusPayload = monitor.Status

// CreateMessage creates a new Message with the given type and payload
func CreateMessage(msgType MessageType, payload interface{}, requestID string) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	msg := Message{
		Type:      msgType,
		Payload:   payloadBytes,
		RequestID: requestID,
	}

	return json.Marshal(msg)
}

// ParseMessage parses a JSON message into a Message struct
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParsePayload parses the payload of a message into the given struct
func ParsePayload(msg *Message, payload interface{}) error {
	return json.Unmarshal(msg.Payload, payload)
}
