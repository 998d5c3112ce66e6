package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"fan-monitor/config"
	"fan-monitor/monitor"
	"fan-monitor/mqttpub"
	"fan-monitor/retry"
	"fan-monitor/server"
	"fan-monitor/vesync"
)

const httpTimeout = 30 * time.Second

func main() {
	// コマンドライン引数のヘルプメッセージをカスタマイズ
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "使用方法: %s [オプション]\n\nオプション:\n", os.Args[0])
		fs.PrintDefaults()
	}

	// コマンドライン引数の解析
	args, err := config.ParseCommandLineArgs(fs, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// 設定ファイルの読み込み
	cfg, err := config.LoadConfig(args.ConfigFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "設定ファイルの読み込みエラー: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnvironment()
	cfg.ApplyCommandLineArgs(args)
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "設定エラー: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// ロガーのセットアップ
	logManager, err := server.NewLogManager(cfg.Log.Filename, cfg.Debug)
	if err != nil {
		return fmt.Errorf("ログ設定エラー: %w", err)
	}
	defer func() {
		if err := logManager.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "ログファイルのクローズエラー: %v\n", err)
		}
	}()
	slog.SetDefault(slog.New(logManager.Handler()))

	opts, err := cfg.SchedulerOptions()
	if err != nil {
		return err
	}

	// ルートコンテキストの作成
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // プログラム終了時にコンテキストをキャンセル

	// シグナルハンドリングの設定 (SIGINT, SIGTERM)
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case sig := <-signalCh:
			slog.Info("Received signal, shutting down", "signal", sig.String())
			cancel() // シグナル受信時にコンテキストをキャンセル
		case <-ctx.Done():
		}
	}()

	httpClient, err := vesync.NewHTTPClient(httpTimeout)
	if err != nil {
		return err
	}
	gateway := vesync.NewClientWithURL(cfg.VeSync.Email, cfg.VeSync.Password, cfg.VeSync.TimeZone, cfg.VeSync.BaseURL)
	gateway.SetHTTPClient(httpClient)

	ws := server.NewWebSocketServer(ctx, cfg.Addr(), server.ServerOptions{
		SecretKey: cfg.SecretKey,
		Debug:     cfg.Debug,
	})

	// WARN 以上のログを WebSocket クライアントにも通知する
	slog.SetDefault(slog.New(server.NewBroadcastHandler(logManager.Handler(), ws.Transport(), slog.LevelWarn)))

	if cfg.MQTT.Enabled {
		client := MQTT.NewClient(mqttpub.NewClientOptions(cfg.MQTT.Broker, cfg.MQTT.ClientID))
		publisher := mqttpub.New(client, cfg.MQTT.TopicPrefix)
		if err := publisher.Connect(ctx, retry.Fixed(5, 5*time.Second)); err != nil {
			return err
		}
		defer publisher.Close()
		ws.SetMirror(publisher)
	}

	scheduler := monitor.NewScheduler(gateway, ws, opts, nil)
	ws.SetStatusProvider(scheduler)
	ws.OnSubscriberConnect(scheduler.HandleSubscriberConnect)

	// The server accepts subscribers before the first table arrives;
	// they are served once a refresh succeeds.
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- ws.Start(server.StartOptions{
			CertFile: tlsFile(cfg.TLS.Enabled, cfg.TLS.CertFile),
			KeyFile:  tlsFile(cfg.TLS.Enabled, cfg.TLS.KeyFile),
		})
	}()

	if err := scheduler.Initialize(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Initialization failed, the refresh loop will keep retrying", "err", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("サーバーエラー: %w", err)
		}
		cancel()
	}

	if err := ws.Stop(); err != nil {
		slog.Warn("Error stopping server", "err", err)
	}
	wg.Wait()
	return runErr
}

func tlsFile(enabled bool, path string) string {
	if !enabled {
		return ""
	}
	return path
}
