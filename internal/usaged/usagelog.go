package usaged

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogEntry is one telemetry failure.
type LogEntry struct {
	Time      time.Time `json:"time"`
	Name      string    `json:"name"`
	SessionID string    `json:"sessionId"`
	Error     string    `json:"error"`
	Attempt   int       `json:"attempt"`
	RetryAt   time.Time `json:"retryAt"`
}

// UsageLog is an append-only JSON-lines file that is cut back to its last
// TailLines lines whenever it grows past MaxBytes.
type UsageLog struct {
	Path      string
	MaxBytes  int64
	TailLines int
}

// Append writes entry and rotates the file when it is over the ceiling.
func (l *UsageLog) Append(entry LogEntry) error {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0755); err != nil {
		return fmt.Errorf("creating usage log dir: %w", err)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding usage log entry: %w", err)
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening usage log: %w", err)
	}
	_, werr := f.Write(append(line, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("writing usage log: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("closing usage log: %w", cerr)
	}
	l.rotate()
	return nil
}

// rotate is best-effort; a failed rotation leaves the log oversized.
func (l *UsageLog) rotate() {
	info, err := os.Stat(l.Path)
	if err != nil || info.Size() <= l.MaxBytes {
		return
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	kept := lines[:0]
	for _, ln := range lines {
		if len(bytes.TrimSpace(ln)) > 0 {
			kept = append(kept, ln)
		}
	}
	if len(kept) > l.TailLines {
		kept = kept[len(kept)-l.TailLines:]
	}
	out := append(bytes.Join(kept, []byte("\n")), '\n')
	_ = os.WriteFile(l.Path, out, 0644)
}
