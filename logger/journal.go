package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger appends one JSON object per line to a journal file. It records
// every decoded submission before validation so operators can replay or audit
// what the intake actually received.
type FileLogger struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

func NewFileLogger(filename string) (*FileLogger, error) {
	// Ensure log directory exists
	logDir := filepath.Dir(filename)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &FileLogger{file: file, now: time.Now}, nil
}

func (l *FileLogger) Log(kind string, data interface{}) error {
	logEntry := struct {
		Timestamp time.Time   `json:"timestamp"`
		Kind      string      `json:"kind"`
		Data      interface{} `json:"data"`
	}{
		Timestamp: l.now(),
		Kind:      kind,
		Data:      data,
	}

	jsonData, err := json.Marshal(logEntry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	return nil
}

func (l *FileLogger) Close() error {
	return l.file.Close()
}
