package registry

import (
	"context"

	"github.com/agusx1211/opencode-subagent/internal/debug"
)

// Refresh reconciles recorded lifecycle state with OS process liveness for
// the named records (all records when names is empty) and returns the
// resulting registry.
//
// A scheduled or running record whose pid is alive becomes running. One
// whose pid is gone, and that had a pid or was already running, becomes
// unknown: the process disappeared without reporting completion. A scheduled
// record with no pid yet is left alone. This is the only place lifecycle
// status follows OS observation.
func (s *Store) Refresh(ctx context.Context, names ...string) (*Registry, error) {
	return s.Update(ctx, func(reg *Registry) (bool, error) {
		keys := names
		if len(keys) == 0 {
			keys = make([]string, 0, len(reg.Agents))
			for name := range reg.Agents {
				keys = append(keys, name)
			}
		}

		now := s.now()
		changed := false
		for _, name := range keys {
			rec := reg.Get(name)
			if rec == nil || !rec.Status.Active() {
				continue
			}
			pid := rec.Pid()
			switch {
			case pid > 0 && s.alive(pid):
				if rec.Status != StatusRunning {
					rec.Status = StatusRunning
					rec.UpdatedAt = now
					changed = true
				}
			case pid > 0 || rec.Status == StatusRunning:
				debug.LogKV("registry", "process vanished", "name", name, "pid", pid, "from", rec.Status)
				rec.Status = StatusUnknown
				rec.UpdatedAt = now
				rec.FinishedAt = nil
				rec.ExitCode = nil
				changed = true
			}
		}
		return changed, nil
	})
}
