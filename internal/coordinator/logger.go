// Package coordinator ties assignment, leasing, workspaces, and context
// aggregation together behind the operations workers call.
package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger appends timestamped coordinator events to a log file. The
// zero value discards everything, so callers never need a nil check
// before logging.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDebugLogger opens (or creates) a log file at path, appending to it.
// An empty path yields a no-op logger.
func NewDebugLogger(path string) (*DebugLogger, error) {
	if path == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{file: f}
	l.Log("--- coordinator log opened %s ---", time.Now().Format(time.RFC3339))
	return l, nil
}

// NewDebugLoggerForRepo places the log under the repo's .atelier/logs
// directory. Debug logging is never worth failing an operation over, so
// any open error degrades to a no-op logger.
func NewDebugLoggerForRepo(repoPath string) *DebugLogger {
	l, err := NewDebugLogger(filepath.Join(repoPath, ".atelier", "logs", "coordinator-debug.log"))
	if err != nil {
		return &DebugLogger{}
	}
	return l
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log appends one timestamped line. Safe on a nil or no-op logger and
// from concurrent goroutines.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.WriteString(line); err == nil {
		l.file.Sync()
	}
}

// Close releases the underlying file. Safe on a no-op logger.
func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
