package worker

import (
	"context"
	"fmt"

	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/proc"
	"github.com/agusx1211/opencode-subagent/internal/registry"
)

// Launcher starts detached workers.
type Launcher struct {
	Store *registry.Store
	// Spawn starts the detached process; proc.StartDetached by default.
	Spawn func(proc.Detached) (int, error)
}

// NewLauncher returns a Launcher spawning the current executable.
func NewLauncher(store *registry.Store) *Launcher {
	return &Launcher{Store: store, Spawn: proc.StartDetached}
}

// Launch spawns a worker for p and stamps its pid onto the still-scheduled
// record of the same generation, so a worker that dies before reporting is
// reconciled to unknown rather than left scheduled. It returns the pid.
func (l *Launcher) Launch(ctx context.Context, p *Payload) (int, error) {
	enc, err := p.Encode()
	if err != nil {
		return 0, err
	}
	pid, err := l.Spawn(proc.Detached{
		Args:  []string{CommandName},
		Dir:   p.Root,
		Env:   []string{EnvPayload + "=" + enc},
		Label: "worker",
	})
	if err != nil {
		return 0, fmt.Errorf("launching worker: %w", err)
	}
	debug.LogKV("worker", "launched", "name", p.Name, "pid", pid, "launch_id", p.LaunchID)

	_, err = l.Store.Mutate(ctx, p.Name, func(rec *registry.AgentRecord) bool {
		if !rec.Generation().Equal(p.StartedAt) || rec.Status != registry.StatusScheduled || rec.PID != nil {
			return false
		}
		rec.PID = &pid
		return true
	})
	if err != nil {
		// The worker reports its own pid shortly; a missed stamp only delays
		// crash detection until then.
		debug.LogKV("worker", "pid stamp failed", "name", p.Name, "pid", pid, "error", err)
	}
	return pid, nil
}
