package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketClientTransport はWebSocketクライアントのネットワーク層を抽象化するインターフェース
type WebSocketClientTransport interface {
	// Connect はWebSocketサーバーに接続する
	Connect(ctx context.Context) error

	// Close は接続を閉じる
	Close() error

	// ReadMessage はWebSocketサーバーからメッセージを読み込む
	ReadMessage() (messageType int, p []byte, err error)

	// WriteMessage はWebSocketサーバーにメッセージを送信する
	WriteMessage(messageType int, data []byte) error

	// IsConnected は接続が確立されているかどうかを返す
	IsConnected() bool
}

// DefaultWebSocketClientTransport は WebSocketClientTransport インターフェースのデフォルト実装
type DefaultWebSocketClientTransport struct {
	url    string
	token  string
	dialer *websocket.Dialer

	mutex sync.Mutex // guards conn and serializes writes
	conn  *websocket.Conn
}

// NewDefaultWebSocketClientTransport は DefaultWebSocketClientTransport の新しいインスタンスを作成する
// token, when not empty, is sent as a bearer token during the handshake.
func NewDefaultWebSocketClientTransport(serverURL, token string) (*DefaultWebSocketClientTransport, error) {
	// URLの検証
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", serverURL)
	}

	return &DefaultWebSocketClientTransport{
		url:    serverURL,
		token:  token,
		dialer: websocket.DefaultDialer,
	}, nil
}

// Connect はWebSocketサーバーに接続する
func (t *DefaultWebSocketClientTransport) Connect(ctx context.Context) error {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("server rejected the token: %w", err)
		}
		return err
	}

	t.mutex.Lock()
	t.conn = conn
	t.mutex.Unlock()
	return nil
}

// Close は接続を閉じる
func (t *DefaultWebSocketClientTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.conn == nil {
		return nil
	}
	_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := t.conn.Close()
	t.conn = nil
	return err
}

// ReadMessage はWebSocketサーバーからメッセージを読み込む
// Only one goroutine may read at a time.
func (t *DefaultWebSocketClientTransport) ReadMessage() (messageType int, p []byte, err error) {
	t.mutex.Lock()
	conn := t.conn
	t.mutex.Unlock()
	if conn == nil {
		return 0, nil, websocket.ErrCloseSent
	}
	return conn.ReadMessage()
}

// WriteMessage はWebSocketサーバーにメッセージを送信する
func (t *DefaultWebSocketClientTransport) WriteMessage(messageType int, data []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.conn == nil {
		return websocket.ErrCloseSent
	}
	return t.conn.WriteMessage(messageType, data)
}

// IsConnected は接続が確立されているかどうかを返す
func (t *DefaultWebSocketClientTransport) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.conn != nil
}
