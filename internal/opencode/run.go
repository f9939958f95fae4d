package opencode

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/debug"
)

// RunRequest describes one `opencode run` invocation.
type RunRequest struct {
	Prompt    string
	Title     string
	Model     string
	Variant   string
	Agent     string
	SessionID string
	Files     []string
	// Dir is the working directory of the run.
	Dir string
}

// Args renders the command line after the executable.
func (r RunRequest) Args() []string {
	args := []string{"run", r.Prompt, "--title", r.Title, "--model", r.Model}
	if r.Variant != "" {
		args = append(args, "--variant", r.Variant)
	}
	if r.Agent != "" {
		args = append(args, "--agent", r.Agent)
	}
	if r.SessionID != "" {
		args = append(args, "--session", r.SessionID)
	}
	for _, f := range r.Files {
		if f != "" {
			args = append(args, "--file", f)
		}
	}
	return args
}

// runWaitDelay bounds how long Wait keeps reading stderr after the tool has
// exited while a stray descendant still holds the pipe.
const runWaitDelay = 2 * time.Second

// Run is a started `opencode run`. The caller owns it: it must Wait.
type Run struct {
	cmd    *exec.Cmd
	stderr *tailWriter
	done   chan struct{}

	exitCode int
	waitErr  error
}

// StartRun starts the tool with stdout discarded and a bounded tail of
// stderr kept. The tool stays in the caller's process group, so killing a
// worker's group also kills the run it supervises.
func (c *Client) StartRun(req RunRequest) (*Run, error) {
	cmd := exec.Command(c.Command, req.Args()...)
	cmd.Dir = req.Dir
	cmd.WaitDelay = runWaitDelay
	limit := c.StderrLimit
	if limit <= 0 {
		limit = 8192
	}
	r := &Run{
		cmd:    cmd,
		stderr: &tailWriter{limit: limit, buf: &strings.Builder{}},
		done:   make(chan struct{}),
	}
	cmd.Stderr = r.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting opencode run: %w", err)
	}
	debug.LogKV("opencode", "run started", "pid", cmd.Process.Pid, "title", req.Title, "session_id", req.SessionID, "model", req.Model)

	go func() {
		err := cmd.Wait()
		r.exitCode = ExitCode(cmd.ProcessState, err)
		r.waitErr = err
		close(r.done)
	}()
	return r, nil
}

// Pid is the tool's pid.
func (r *Run) Pid() int { return r.cmd.Process.Pid }

// Done is closed once the tool has exited.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the tool exits and returns its exit code.
func (r *Run) Wait() int {
	<-r.done
	return r.exitCode
}

// Err is the raw wait error, nil on a clean exit. Valid after Done.
func (r *Run) Err() error { return r.waitErr }

// Signal delivers sig to the tool.
func (r *Run) Signal(sig syscall.Signal) error {
	select {
	case <-r.done:
		return nil
	default:
	}
	err := syscall.Kill(r.Pid(), sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Stderr returns the captured diagnostic tail.
func (r *Run) Stderr() string { return r.stderr.String() }

// ExitCode maps a finished process to a shell-style exit code: the exit
// status, or 128+signal when it died on a signal, or 1 when it never ran.
func ExitCode(state *os.ProcessState, err error) int {
	if state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		if code := state.ExitCode(); code >= 0 {
			return code
		}
	}
	if err == nil {
		return 0
	}
	return 1
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   *strings.Builder
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	if w.buf.Len() > w.limit {
		s := w.buf.String()
		w.buf.Reset()
		w.buf.WriteString(s[len(s)-w.limit:])
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
