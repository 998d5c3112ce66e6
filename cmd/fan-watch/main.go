// Command fan-watch subscribes to a fan-monitor server and shows its
// device list. It opens an interactive console when stdin is a terminal
// and otherwise streams every update to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"fan-monitor/client"
	"fan-monitor/config"
	"fan-monitor/console"
)

func main() {
	// コマンドライン引数のヘルプメッセージをカスタマイズ
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "使用方法: %s [オプション]\n\nオプション:\n", os.Args[0])
		flag.PrintDefaults()
	}

	// コマンドライン引数の定義
	debugFlag := flag.Bool("debug", false, "デバッグログを標準エラーに出力する")
	serverURLFlag := flag.String("server", "ws://localhost:5000/ws", "WebSocketサーバーのURL")
	tokenFlag := flag.String("token", os.Getenv(config.EnvSecretKey), "サーバーのシークレットキー")
	streamFlag := flag.Bool("stream", false, "端末でも対話モードを使わず更新を出力し続ける")

	// コマンドライン引数の解析
	flag.Parse()

	level := slog.LevelWarn
	if *debugFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ルートコンテキストの作成
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // プログラム終了時にコンテキストをキャンセル

	// シグナルハンドリングの設定 (SIGINT, SIGTERM)
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		cancel() // シグナル受信時にコンテキストをキャンセル
	}()

	// WebSocketクライアントの作成
	c, err := client.NewWebSocketClient(ctx, *serverURLFlag, *tokenFlag)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "WebSocketクライアントの作成に失敗: %v\n", err)
		os.Exit(1)
	}
	if err := c.Connect(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "接続に失敗: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if *streamFlag || !term.IsTerminal(int(os.Stdin.Fd())) {
		if err := console.Stream(ctx, c, os.Stdout); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		}
		return
	}

	// go-prompt handles Ctrl-C itself while it owns the terminal
	signal.Stop(signalCh)
	console.New(ctx, c, os.Stdout).Run()
}
