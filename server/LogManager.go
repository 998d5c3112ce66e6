package server

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fan-monitor/log"
)

// LogManager owns the log file and reopens it on SIGHUP.
type LogManager struct {
	logger   *log.Logger
	handler  slog.Handler
	signalCh chan os.Signal
	done     chan struct{}
}

// NewLogManager opens logFilename and builds a text handler writing to it.
// In debug mode records are also written to stderr and the level drops
// to debug.
func NewLogManager(logFilename string, debug bool) (*LogManager, error) {
	// ロガーのセットアップ
	logger, err := log.NewLogger(logFilename)
	if err != nil {
		return nil, err
	}

	var w io.Writer = logger
	level := slog.LevelInfo
	if debug {
		w = io.MultiWriter(logger, os.Stderr)
		level = slog.LevelDebug
	}

	lm := &LogManager{
		logger:   logger,
		handler:  slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}),
		signalCh: make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}

	// ログローテーション用のシグナルハンドリング (SIGHUP)
	signal.Notify(lm.signalCh, syscall.SIGHUP)
	go lm.watchRotate()

	return lm, nil
}

// Handler returns the handler writing to the managed log file.
func (lm *LogManager) Handler() slog.Handler {
	return lm.handler
}

func (lm *LogManager) watchRotate() {
	for {
		select {
		case <-lm.signalCh:
			slog.Info("Received SIGHUP, rotating log file", "file", lm.logger.Filename())
			if err := lm.logger.Rotate(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
			}
		case <-lm.done:
			return
		}
	}
}

func (lm *LogManager) Close() error {
	signal.Stop(lm.signalCh)
	close(lm.done)
	// ログファイルを閉じる
	return lm.logger.Close()
}
