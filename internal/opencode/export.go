package opencode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/transcript"
)

// ErrExportTimeout is returned when an export does not finish in time.
var ErrExportTimeout = errors.New("export timed out")

// ExportError is a failed or unparseable export. Output holds whatever the
// tool printed, for diagnostics.
type ExportError struct {
	Err    error
	Output string
}

func (e *ExportError) Error() string { return e.Err.Error() }
func (e *ExportError) Unwrap() error { return e.Err }

// Export runs `opencode export <sessionID>` in dir and parses the result.
//
// The tool's stdout goes to a temp file rather than a pipe: large exports
// written to a pipe come back truncated.
func (c *Client) Export(ctx context.Context, sessionID, dir string) (*transcript.Export, error) {
	out, err := c.exportRaw(ctx, sessionID, dir)
	if err != nil {
		return nil, err
	}
	exp, err := transcript.Parse(out)
	if err != nil {
		return nil, &ExportError{Err: fmt.Errorf("parsing export: %w", err), Output: out}
	}
	return exp, nil
}

func (c *Client) exportRaw(ctx context.Context, sessionID, dir string) (string, error) {
	tmp, err := os.CreateTemp("", "opencode-export-*.json")
	if err != nil {
		return "", fmt.Errorf("creating export file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	runCtx, cancel := context.WithTimeout(ctx, c.ExportTimeout)
	defer cancel()

	var stderr strings.Builder
	cmd := c.command(runCtx, dir, "export", sessionID)
	cmd.Stdout = tmp
	cmd.Stderr = &tailWriter{limit: 4096, buf: &stderr}

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		debug.LogKV("opencode", "export timed out", "session_id", sessionID, "timeout", c.ExportTimeout)
		return "", ErrExportTimeout
	}

	data, readErr := os.ReadFile(tmp.Name())
	out := string(data)
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return "", &ExportError{Err: fmt.Errorf("opencode export: %s", msg), Output: out}
	}
	if readErr != nil {
		return "", fmt.Errorf("reading export file: %w", readErr)
	}
	return out, nil
}
