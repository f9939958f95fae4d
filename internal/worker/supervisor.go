package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/opencode"
	"github.com/agusx1211/opencode-subagent/internal/registry"
)

// errSuperseded means the record now belongs to another generation.
var errSuperseded = errors.New("record superseded by a newer cycle")

// Supervisor runs a task cycle inside a worker process.
type Supervisor struct {
	Store *registry.Store
	Tool  *opencode.Client

	// DiscoverAttempts bounds session discovery while the tool runs;
	// DiscoverAfterAttempts bounds the retry after it exits.
	DiscoverAttempts      int
	DiscoverAfterAttempts int
	// WriteAttempts bounds lock retries for lifecycle writes.
	WriteAttempts int
	// FinishTimeout bounds the final done write once ctx is cancelled.
	FinishTimeout time.Duration
}

// Run executes the cycle described by p. Cancelling ctx forwards SIGTERM to
// the tool; the cycle then finishes normally. A done record
// is written on every path unless the record was superseded.
func (s *Supervisor) Run(ctx context.Context, p *Payload) (err error) {
	pid := os.Getpid()
	sessionID := p.SessionID
	exitCode := 1
	stderr := ""
	var runErr error

	debug.LogKV("worker", "cycle start", "name", p.Name, "pid", pid, "launch_id", p.LaunchID, "resume_count", p.ResumeCount)

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("worker panic: %v", r)
			err = runErr
		}
		if errors.Is(err, errSuperseded) {
			err = nil
			return
		}
		s.finish(ctx, p, sessionID, exitCode, runErr, stderr)
	}()

	if err := s.markRunning(ctx, p, pid); err != nil {
		if errors.Is(err, errSuperseded) {
			debug.LogKV("worker", "superseded before start", "name", p.Name)
			return err
		}
		debug.LogKV("worker", "running write failed", "name", p.Name, "error", err)
	}

	run, err := s.Tool.StartRun(opencode.RunRequest{
		Prompt:    p.Prompt,
		Title:     p.Title,
		Model:     p.Model,
		Variant:   p.Variant,
		Agent:     p.Agent,
		SessionID: p.SessionID,
		Files:     p.Files,
		Dir:       p.Cwd,
	})
	if err != nil {
		runErr = err
		return err
	}

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		select {
		case <-ctx.Done():
			debug.LogKV("worker", "forwarding SIGTERM", "name", p.Name, "tool_pid", run.Pid())
			if err := run.Signal(syscall.SIGTERM); err != nil {
				debug.LogKV("worker", "signal forward failed", "error", err)
			}
		case <-run.Done():
		}
	}()

	if sessionID == "" {
		sessionID = s.Tool.DiscoverSessionID(ctx, p.Title, p.Cwd, s.DiscoverAttempts)
		if sessionID != "" {
			s.recordSession(ctx, p, sessionID)
		}
	}

	exitCode = run.Wait()
	stderr = run.Stderr()
	<-forwardDone
	debug.LogKV("worker", "tool exited", "name", p.Name, "exit_code", exitCode)

	if sessionID == "" {
		sessionID = s.Tool.DiscoverSessionID(context.WithoutCancel(ctx), p.Title, p.Cwd, s.DiscoverAfterAttempts)
	}
	return nil
}

func (s *Supervisor) attempts() int {
	if s.WriteAttempts > 0 {
		return s.WriteAttempts
	}
	return 10
}

// mutateOwn applies fn to the record only while it still belongs to p's
// generation.
func (s *Supervisor) mutateOwn(ctx context.Context, p *Payload, fn func(rec *registry.AgentRecord) bool) error {
	superseded := false
	_, err := s.Store.MutateWithRetry(ctx, s.attempts(), p.Name, func(rec *registry.AgentRecord) bool {
		if !rec.Generation().Equal(p.StartedAt) {
			superseded = true
			return false
		}
		return fn(rec)
	})
	if errors.Is(err, registry.ErrNotFound) || (err == nil && superseded) {
		return errSuperseded
	}
	return err
}

func (s *Supervisor) markRunning(ctx context.Context, p *Payload, pid int) error {
	return s.mutateOwn(ctx, p, func(rec *registry.AgentRecord) bool {
		if !registry.CanTransition(rec.Status, registry.StatusRunning) {
			return false
		}
		rec.Status = registry.StatusRunning
		rec.PID = &pid
		rec.LaunchID = p.LaunchID
		if p.SessionID != "" {
			rec.SessionID = p.SessionID
		}
		return true
	})
}

func (s *Supervisor) recordSession(ctx context.Context, p *Payload, sessionID string) {
	err := s.mutateOwn(ctx, p, func(rec *registry.AgentRecord) bool {
		if rec.SessionID == sessionID {
			return false
		}
		rec.SessionID = sessionID
		return true
	})
	if err != nil {
		debug.LogKV("worker", "session write failed", "name", p.Name, "error", err)
	}
}

func (s *Supervisor) finish(ctx context.Context, p *Payload, sessionID string, exitCode int, runErr error, stderr string) {
	timeout := s.FinishTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	now := s.Store.Now()
	err := s.mutateOwn(ctx, p, func(rec *registry.AgentRecord) bool {
		if !registry.CanTransition(rec.Status, registry.StatusDone) {
			return false
		}
		rec.Status = registry.StatusDone
		rec.ExitCode = &exitCode
		rec.FinishedAt = &now
		rec.LaunchID = p.LaunchID
		if sessionID != "" {
			rec.SessionID = sessionID
		}
		rec.Error = ""
		if runErr != nil {
			rec.Error = runErr.Error()
		}
		rec.Stderr = strings.TrimSpace(stderr)
		return true
	})
	if err != nil && !errors.Is(err, errSuperseded) {
		debug.LogKV("worker", "done write failed", "name", p.Name, "launch_id", p.LaunchID, "error", err)
		return
	}
	debug.LogKV("worker", "cycle done", "name", p.Name, "launch_id", p.LaunchID, "exit_code", exitCode, "session_id", sessionID)
}
