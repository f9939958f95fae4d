// Package debug provides an opt-in structured logger for diagnosing the
// command, worker and usage-daemon processes.
//
// When enabled via --debug (or the inherited environment), every lock
// acquisition, lifecycle transition, election and export attempt is appended
// to one .log file. Detached workers and the daemon inherit the same file
// through PropagatedEnv, so a start → worker → daemon chain can be read
// top to bottom in one place.
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

	"github.com/google/uuid"
)

var (
	logger   *Logger
	loggerMu sync.RWMutex
)

const (
	// EnvEnabled toggles debug logger initialization for child processes.
	EnvEnabled = "OPENCODE_PSA_DEBUG_ENABLED"
	// EnvLogPath forces logs to be appended to an existing file.
	EnvLogPath = "OPENCODE_PSA_DEBUG_LOG_PATH"
	// EnvProcess labels the current process in every emitted line.
	EnvProcess = "OPENCODE_PSA_DEBUG_PROCESS"
)

// Logger writes structured debug lines to a file.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	startedAt time.Time
	pid       int
	process   string
}

// Init initializes the global debug logger and returns the log file path.
// A second call returns the already-open path.
func Init() (string, error) {
	loggerMu.RLock()
	if logger != nil {
		p := logger.path
		loggerMu.RUnlock()
		return p, nil
	}
	loggerMu.RUnlock()

	path, inherited, err := resolveLogPath()
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("debug: open log %s: %w", path, err)
	}

	now := time.Now()
	l := &Logger{
		file:      f,
		path:      path,
		startedAt: now,
		pid:       os.Getpid(),
		process:   processLabel(),
	}

	banner := "=== SUBAGENT DEBUG LOG ==="
	if inherited {
		banner = "=== SUBAGENT PROCESS ATTACHED ==="
	}
	fmt.Fprintf(f, "\n%s\nStarted: %s\nPID: %d\nProcess: %s\n===\n\n",
		banner, now.Format(time.RFC3339Nano), l.pid, l.process)

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		_ = f.Close()
		return logger.path, nil
	}
	logger = l
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
	fmt.Fprintf(l.file, "=== CLOSED === (pid=%d process=%s duration=%s)\n",
		l.pid, l.process, time.Since(l.startedAt).Truncate(time.Millisecond))
	l.file.Close()
}

// Enabled reports whether the debug logger is active.
func Enabled() bool {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger != nil
}

// Path returns the log file path, or "" if not enabled.
func Path() string {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if logger == nil {
		return ""
	}
	return logger.path
}

// ShouldEnableFromEnv reports whether an inherited environment asks for
// debug logging.
func ShouldEnableFromEnv() bool {
	path := strings.TrimSpace(os.Getenv(EnvLogPath))
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvEnabled))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return path != ""
	}
}

// PropagatedEnv overlays the debug variables on baseEnv so a spawned child
// appends to the same log. baseEnv is returned unchanged when disabled.
func PropagatedEnv(baseEnv []string, process string) []string {
	logPath := Path()
	if logPath == "" {
		return baseEnv
	}
	env := append([]string(nil), baseEnv...)
	env = SetEnv(env, EnvEnabled, "1")
	env = SetEnv(env, EnvLogPath, logPath)
	if strings.TrimSpace(process) != "" {
		env = SetEnv(env, EnvProcess, process)
	}
	return env
}

// Log writes a debug line.
func Log(component, msg string) {
	if l := current(); l != nil {
		l.write(component, msg)
	}
}

// Logf writes a formatted debug line.
func Logf(component, format string, args ...any) {
	if l := current(); l != nil {
		l.write(component, fmt.Sprintf(format, args...))
	}
}

// LogKV writes a debug line with key-value context pairs.
// Usage: debug.LogKV("registry", "transition", "name", "a", "to", "done")
func LogKV(component, msg string, kvs ...any) {
	l := current()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kvs); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kvs[i], kvs[i+1])
	}
	l.write(component, b.String())
}

func current() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

func (l *Logger) write(component, msg string) {
	now := time.Now()

	caller := "??:0"
	if _, file, line, ok := runtime.Caller(2); ok {
		if idx := strings.LastIndex(file, "/internal/"); idx >= 0 {
			file = file[idx+len("/internal/"):]
		} else {
			file = filepath.Base(file)
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	// TIMESTAMP +ELAPSED [PID] [PROCESS] [COMPONENT] CALLER | MESSAGE
	line := fmt.Sprintf("%s +%10s [P%-6d] [%-18s] [%-12s] %-32s | %s\n",
		now.Format("15:04:05.000000"),
		now.Sub(l.startedAt).Truncate(time.Microsecond),
		l.pid,
		l.process,
		component,
		caller,
		msg,
	)

	l.mu.Lock()
	l.file.WriteString(line)
	l.mu.Unlock()
}

func resolveLogPath() (path string, inherited bool, err error) {
	if p := strings.TrimSpace(os.Getenv(EnvLogPath)); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return "", true, fmt.Errorf("debug: create dir for %s: %w", p, err)
		}
		return p, true, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("debug: user home dir: %w", err)
	}
	dir := filepath.Join(home, ".opencode-subagent", "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("debug: create dir %s: %w", dir, err)
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", time.Now().Format("20060102T150405"), id)), false, nil
}

func processLabel() string {
	if p := strings.TrimSpace(os.Getenv(EnvProcess)); p != "" {
		return p
	}
	base := filepath.Base(os.Args[0])
	for _, arg := range os.Args[1:] {
		arg = strings.TrimSpace(arg)
		if arg == "" || strings.HasPrefix(arg, "-") {
			continue
		}
		return base + ":" + arg
	}
	return base
}

// SetEnv replaces or appends key=value in env.
func SetEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i := range env {
		if strings.HasPrefix(env[i], prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
