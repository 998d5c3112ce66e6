// Package log provides the rotatable log file behind the slog handlers.
package log

import (
	"fmt"
	"os"
	"sync"
)

// Logger is an append-only log file that can be reopened in place, so
// that an external rotator can move the file away and signal the process.
type Logger struct {
	logMutex sync.Mutex
	logFile  *os.File
	filename string
}

// NewLogger opens filename for appending, creating it when missing.
func NewLogger(filename string) (*Logger, error) {
	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	return &Logger{
		logFile:  logFile,
		filename: filename,
	}, nil
}

func (l *Logger) Filename() string {
	return l.filename
}

// Write implements io.Writer. Writes after Close are dropped.
func (l *Logger) Write(p []byte) (int, error) {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return len(p), nil
	}
	return l.logFile.Write(p)
}

func (l *Logger) Close() error {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// Rotate closes and reopens the log file
func (l *Logger) Rotate() error {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return nil // closed
	}
	_ = l.logFile.Close()

	logFile, err := os.OpenFile(l.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		l.logFile = nil
		return fmt.Errorf("reopening log file: %w", err)
	}
	l.logFile = logFile
	return nil
}
