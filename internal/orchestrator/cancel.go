package orchestrator

import (
	"context"
	"strings"
	"syscall"

	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/proc"
	"github.com/agusx1211/opencode-subagent/internal/registry"
)

// CancelOutput reports a delivered signal.
type CancelOutput struct {
	OK             bool            `json:"ok"`
	Name           string          `json:"name"`
	PID            int             `json:"pid"`
	SignalSent     string          `json:"signalSent"`
	PreviousStatus registry.Status `json:"previousStatus"`
}

// Cancel signals a running task's worker. TERM goes to the worker alone,
// which forwards it to the tool and records the outcome. KILL goes to the
// worker's whole process group so the tool dies with it; the reconciler then
// marks the task unknown. The registry is not touched here.
func (o *Orchestrator) Cancel(ctx context.Context, name, signal string) (*CancelOutput, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(CodeNameRequired, "--name is required", nil)
	}
	if signal == "" {
		signal = "TERM"
	}

	reg, err := o.Store.Refresh(ctx, name)
	if err != nil {
		return nil, err
	}
	rec := reg.Get(name)
	if rec == nil {
		return nil, newError(CodeNotRunning, "Agent not running", map[string]any{"name": name})
	}
	if rec.Status != registry.StatusRunning || rec.Pid() <= 0 {
		return nil, newError(CodeNotRunning, "Agent not running", map[string]any{"name": name, "status": rec.Status})
	}

	sig, ok := proc.ParseSignal(signal)
	if !ok {
		return nil, newError(CodeSignalUnsupported, "Unsupported signal", map[string]any{
			"signal":  signal,
			"allowed": []string{"TERM", "KILL"},
		})
	}
	pid := rec.Pid()
	send := proc.Signal
	if sig == syscall.SIGKILL {
		send = proc.SignalGroup
	}
	if err := send(pid, sig); err != nil {
		debug.LogKV("orchestrator", "signal failed", "name", name, "pid", pid, "signal", signal, "error", err)
		return nil, newError(CodeSignalFailed, "Failed to send signal", map[string]any{"pid": pid, "message": err.Error()})
	}
	debug.LogKV("orchestrator", "signal sent", "name", name, "pid", pid, "signal", signal)
	return &CancelOutput{
		OK:             true,
		Name:           name,
		PID:            pid,
		SignalSent:     strings.TrimPrefix(strings.ToUpper(signal), "SIG"),
		PreviousStatus: rec.Status,
	}, nil
}
