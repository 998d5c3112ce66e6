//go:build integration

package helpers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fan-monitor/monitor"
	"fan-monitor/protocol"
)

// WebSocketConnection はWebSocket接続のテスト用ラッパー
type WebSocketConnection struct {
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketConnection は新しいWebSocket接続を作成する
// token が空でなければ Authorization ヘッダで送る
func NewWebSocketConnection(serverURL, token string) (*WebSocketConnection, *http.Response, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := dialer.Dial(serverURL, header)
	if err != nil {
		return nil, resp, fmt.Errorf("WebSocket接続に失敗: %v", err)
	}
	return &WebSocketConnection{conn: conn}, resp, nil
}

// SendMessage はWebSocketメッセージを送信する
func (wsc *WebSocketConnection) SendMessage(msgType protocol.MessageType, requestID string) error {
	if wsc.closed {
		return fmt.Errorf("接続が既に閉じられています")
	}
	data, err := protocol.CreateMessage(msgType, struct{}{}, requestID)
	if err != nil {
		return err
	}
	return wsc.conn.WriteMessage(websocket.TextMessage, data)
}

// ReceiveMessage はWebSocketメッセージを受信する
func (wsc *WebSocketConnection) ReceiveMessage(timeout time.Duration) (*protocol.Message, error) {
	if wsc.closed {
		return nil, fmt.Errorf("接続が既に閉じられています")
	}

	// タイムアウトを設定
	if timeout > 0 {
		_ = wsc.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	_, data, err := wsc.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("メッセージの受信に失敗: %v", err)
	}
	return protocol.ParseMessage(data)
}

// WaitForMessage は特定の条件にマッチするメッセージを待機する
func (wsc *WebSocketConnection) WaitForMessage(predicate func(*protocol.Message) bool, timeout time.Duration) (*protocol.Message, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		message, err := wsc.ReceiveMessage(time.Until(deadline))
		if err != nil {
			return nil, err
		}
		if predicate(message) {
			return message, nil
		}
	}

	return nil, fmt.Errorf("タイムアウト: 条件にマッチするメッセージが受信されませんでした")
}

// WaitForDevices は predicate を満たす devices_update を待機する
func (wsc *WebSocketConnection) WaitForDevices(predicate func([]monitor.DeviceSnapshot) bool, timeout time.Duration) ([]monitor.DeviceSnapshot, error) {
	var devices protocol.DevicesUpdatePayload
	_, err := wsc.WaitForMessage(func(msg *protocol.Message) bool {
		if msg.Type != protocol.MessageTypeDevicesUpdate {
			return false
		}
		devices = nil
		if err := protocol.ParsePayload(msg, &devices); err != nil {
			return false
		}
		return predicate(devices)
	}, timeout)
	return devices, err
}

// Close はWebSocket接続を閉じる
func (wsc *WebSocketConnection) Close() error {
	if wsc.closed {
		return nil
	}

	wsc.closed = true
	return wsc.conn.Close()
}

// WaitForCondition は条件が満たされるまで待機する
func WaitForCondition(condition func() bool, timeout time.Duration, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}

	return false
}

// FindDevice は名前でデバイスを探す
func FindDevice(devices []monitor.DeviceSnapshot, name string) (monitor.DeviceSnapshot, bool) {
	for _, d := range devices {
		if d.Name == name {
			return d, true
		}
	}
	return monitor.DeviceSnapshot{}, false
}
