//go:build integration

package helpers

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fan-monitor/config"
	"fan-monitor/monitor"
	"fan-monitor/server"
	"fan-monitor/vesync"
)

// TestServer は統合テスト用のサーバーを管理する
type TestServer struct {
	WSServer  *server.WebSocketServer
	Scheduler *monitor.Scheduler
	Config    *config.Config
	Cloud     *FakeCloud
	Port      int

	mu         sync.Mutex
	running    bool
	logManager *server.LogManager
	ctx        context.Context
	cancel     context.CancelFunc
	loops      sync.WaitGroup
}

// NewTestServer は cloud に接続するテストサーバーを作成する
// ポーリング間隔はテスト用に短縮する
func NewTestServer(cloud *FakeCloud) (*TestServer, error) {
	// 利用可能なポートを見つける
	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("利用可能なポートが見つかりません: %v", err)
	}

	// 一時ディレクトリを作成
	tempDir, err := os.MkdirTemp("", "fan-monitor-test-*")
	if err != nil {
		return nil, fmt.Errorf("一時ディレクトリの作成に失敗: %v", err)
	}

	// テスト用設定を作成
	cfg := config.NewConfig()
	cfg.Debug = true
	cfg.HTTPServer.Port = port
	cfg.HTTPServer.Host = "localhost"
	cfg.Log.Filename = filepath.Join(tempDir, "test-fan-monitor.log")
	cfg.VeSync.Email = "integration@example.com"
	cfg.VeSync.Password = "integration"
	cfg.VeSync.BaseURL = cloud.Server.URL
	cfg.Poll.MinInterval = "200ms"
	cfg.Poll.MaxInterval = "500ms"
	cfg.Poll.RampDuration = "2s"
	cfg.Poll.MaxStateAge = "400ms"
	cfg.Poll.DetectTick = "50ms"
	cfg.Poll.FetchTimeout = "2s"
	cfg.Poll.InitRetryDelay = "50ms"

	// コンテキスト作成
	ctx, cancel := context.WithCancel(context.Background())

	return &TestServer{
		Config: cfg,
		Cloud:  cloud,
		Port:   port,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start はテストサーバーを起動する
func (ts *TestServer) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.running {
		return fmt.Errorf("サーバーは既に実行中です")
	}
	if err := ts.Config.Validate(); err != nil {
		return err
	}
	opts, err := ts.Config.SchedulerOptions()
	if err != nil {
		return err
	}

	// ログマネージャーを作成
	logManager, err := server.NewLogManager(ts.Config.Log.Filename, ts.Config.Debug)
	if err != nil {
		return fmt.Errorf("ログマネージャーの作成に失敗: %v", err)
	}
	ts.logManager = logManager

	// WebSocketサーバーを作成
	ts.WSServer = server.NewWebSocketServer(ts.ctx, ts.Config.Addr(), server.ServerOptions{
		SecretKey: ts.Config.SecretKey,
		Debug:     ts.Config.Debug,
	})

	// ログブロードキャストを設定
	slog.SetDefault(slog.New(server.NewBroadcastHandler(logManager.Handler(), ts.WSServer.Transport(), slog.LevelWarn)))

	gateway := vesync.NewClientWithURL(ts.Config.VeSync.Email, ts.Config.VeSync.Password, "", ts.Config.VeSync.BaseURL)
	ts.Scheduler = monitor.NewScheduler(gateway, ts.WSServer, opts, nil)
	ts.WSServer.SetStatusProvider(ts.Scheduler)
	ts.WSServer.OnSubscriberConnect(ts.Scheduler.HandleSubscriberConnect)

	// サーバーを非同期で起動
	readyChan := make(chan struct{})
	go func() {
		if err := ts.WSServer.Start(server.StartOptions{Ready: readyChan}); err != nil {
			fmt.Printf("WebSocketサーバーの起動に失敗: %v\n", err)
		}
	}()

	// サーバーが起動するまで待機
	select {
	case <-readyChan:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("サーバーの起動がタイムアウトしました")
	}

	if err := ts.Scheduler.Initialize(ts.ctx); err != nil {
		slog.Warn("Initialization failed", "err", err)
	}
	ts.loops.Add(1)
	go func() {
		defer ts.loops.Done()
		ts.Scheduler.Run(ts.ctx)
	}()

	ts.running = true
	return nil
}

// Stop はテストサーバーを停止する
func (ts *TestServer) Stop() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.running {
		return nil
	}

	var errs []error

	// コンテキストをキャンセル
	ts.cancel()
	ts.loops.Wait()

	// WebSocketサーバーを停止
	if err := ts.WSServer.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("WebSocketサーバーの停止に失敗: %v", err))
	}

	// ログマネージャーを停止
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := ts.logManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ログマネージャーの停止に失敗: %v", err))
	}

	ts.running = false

	if len(errs) > 0 {
		return fmt.Errorf("停止中にエラーが発生: %v", errs)
	}
	return nil
}

// GetWebSocketURL はWebSocketのURLを返す
func (ts *TestServer) GetWebSocketURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", ts.Config.HTTPServer.Host, ts.Port)
}

// GetHTTPURL はHTTPのURLを返す
func (ts *TestServer) GetHTTPURL() string {
	return fmt.Sprintf("http://%s:%d", ts.Config.HTTPServer.Host, ts.Port)
}

// IsRunning はサーバーが実行中かどうかを返す
func (ts *TestServer) IsRunning() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.running
}

// findFreePort は利用可能なポートを見つける
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}
