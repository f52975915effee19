package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// engineLog is the logger of the most recently built engine. The graph,
// dispatcher and gate write through it because they hold no engine.
var engineLog atomic.Pointer[DebugLogger]

func setPackageLogger(l *DebugLogger) {
	engineLog.Store(l)
}

func debugLog(format string, args ...any) {
	engineLog.Load().Log(format, args...)
}

// DebugLogger appends timestamped lines about runs, resumes and cancels.
// The zero value and a nil pointer both discard everything.
type DebugLogger struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewDebugLogger appends to the file at logPath, creating it and its
// directory as needed. An empty path yields a logger that discards.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return NopLogger(), nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := NewWriterLogger(f, nil)
	l.Log("--- taskloom pid %d opened log at %s ---", os.Getpid(), l.now().Format(time.RFC3339))
	return l, nil
}

// NewWriterLogger logs to w. A nil clock means time.Now.
func NewWriterLogger(w io.Writer, now func() time.Time) *DebugLogger {
	if now == nil {
		now = time.Now
	}
	return &DebugLogger{out: w, now: now}
}

// DefaultLogPath is where the CLI logs when log.path is unset.
func DefaultLogPath(projectDir string) string {
	return filepath.Join(projectDir, ".taskloom", "logs", "engine-debug.log")
}

// NewDebugLoggerForDir logs under projectDir/.taskloom/logs, falling back
// to a discarding logger when that is not writable.
func NewDebugLoggerForDir(projectDir string) *DebugLogger {
	l, err := NewDebugLogger(DefaultLogPath(projectDir))
	if err != nil {
		return NopLogger()
	}
	return l
}

func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one line. Files are synced so a crashed run still leaves a trail.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || l.out == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.out, "%s %s\n", l.now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	if f, ok := l.out.(*os.File); ok {
		f.Sync()
	}
}

// Close closes the underlying writer when it is closable.
func (l *DebugLogger) Close() error {
	if l == nil || l.out == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
