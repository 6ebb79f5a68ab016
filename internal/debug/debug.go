// Package debug provides a verbose structured logger for development
// diagnostics.
//
// When enabled via --debug, significant events in the crewctl runtime are
// written to a single .log file under ~/.crewctl/debug/. Lines carry
// nanosecond timestamps and caller locations so that a supervisor run or a
// broker exchange can be reconstructed after the fact.
//
// When disabled (the default), all logging functions are no-ops.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewctl/crewctl/internal/hexid"
)

// logger is the global debug logger. nil when debug mode is off.
var (
	logger   *Logger
	loggerMu sync.RWMutex
)

const (
	// EnvEnabled toggles debug logger initialization for child crewctl processes.
	EnvEnabled = "CREWCTL_DEBUG_ENABLED"
	// EnvLogPath forces logs to be written to an existing aggregate debug file.
	EnvLogPath = "CREWCTL_DEBUG_LOG_PATH"
)

// Logger writes structured debug lines to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	startedAt time.Time
	pid       int
}

// Init initializes the global debug logger. It creates ~/.crewctl/debug/ if
// needed and opens a log file named with the current timestamp and a random
// hex ID. Returns the log file path. All Log/Logf/LogKV calls are no-ops
// when the logger is nil, so calling Init is only needed in debug mode.
func Init() (string, error) {
	loggerMu.RLock()
	if logger != nil {
		p := logger.path
		loggerMu.RUnlock()
		return p, nil
	}
	loggerMu.RUnlock()

	path := strings.TrimSpace(os.Getenv(EnvLogPath))
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		dir := filepath.Join(home, ".crewctl", "debug")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("debug: create log dir: %w", err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%s.log", time.Now().Format("20060102-150405"), hexid.New()))
	}

	now := time.Now()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("debug: open log %s: %w", path, err)
	}

	l := &Logger{
		file:      f,
		path:      path,
		startedAt: now,
		pid:       os.Getpid(),
	}

	header := fmt.Sprintf(
		"=== CREWCTL DEBUG LOG ===\nStarted: %s\nPID: %d\nGOMAXPROCS: %d\nFile: %s\n===\n\n",
		now.Format(time.RFC3339Nano),
		l.pid,
		runtime.GOMAXPROCS(0),
		path,
	)
	f.WriteString(header)

	loggerMu.Lock()
	if logger != nil {
		p := logger.path
		loggerMu.Unlock()
		_ = f.Close()
		return p, nil
	}
	logger = l
	loggerMu.Unlock()

	return path, nil
}

// Close flushes and closes the debug log. Safe to call when not initialized.
func Close() {
	loggerMu.Lock()
	l := logger
	logger = nil
	loggerMu.Unlock()

	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := time.Since(l.startedAt)
	l.file.WriteString(fmt.Sprintf("\n=== DEBUG LOG CLOSED === (pid=%d duration=%s)\n", l.pid, elapsed))
	l.file.Close()
}

// Enabled returns true if the debug logger is active.
func Enabled() bool {
	loggerMu.RLock()
	e := logger != nil
	loggerMu.RUnlock()
	return e
}

// Path returns the log file path, or "" if not enabled.
func Path() string {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return ""
	}
	return l.path
}

// ShouldEnableFromEnv returns true when debug logging should be initialized
// based on inherited environment variables.
func ShouldEnableFromEnv() bool {
	path := strings.TrimSpace(os.Getenv(EnvLogPath))
	toggle := strings.TrimSpace(strings.ToLower(os.Getenv(EnvEnabled)))
	switch toggle {
	case "":
		return path != ""
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return path != ""
	}
}

// Log writes a debug line. No-op when debug is disabled.
func Log(component, msg string) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}
	l.write(component, msg)
}

// Logf writes a formatted debug line. No-op when debug is disabled.
func Logf(component, format string, args ...any) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}
	l.write(component, fmt.Sprintf(format, args...))
}

// LogKV writes a debug line with key-value context pairs.
// Usage: debug.LogKV("supervisor", "process started", "session_id", id, "pid", pid)
func LogKV(component, msg string, kvs ...any) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		b.WriteString(fmt.Sprintf(" %v=%v", kvs[i], kvs[i+1]))
	}
	l.write(component, b.String())
}

func (l *Logger) write(component, msg string) {
	_, file, line, ok := runtime.Caller(2)
	caller := "?"
	if ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "%s [%s] %s %s\n",
		time.Now().Format("15:04:05.000000000"),
		component,
		caller,
		msg,
	)
}
