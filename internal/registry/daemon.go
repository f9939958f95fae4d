package registry

import (
	"context"

	"github.com/agusx1211/opencode-subagent/internal/debug"
)

// LiveDaemon returns the recorded daemon descriptor when its pid is alive.
func (s *Store) LiveDaemon(reg *Registry) *DaemonDescriptor {
	if reg == nil || reg.Daemon == nil {
		return nil
	}
	if !s.alive(reg.Daemon.PID) {
		return nil
	}
	return reg.Daemon
}

// SetDaemon records pid as the elected daemon.
func (s *Store) SetDaemon(reg *Registry, pid int) *DaemonDescriptor {
	now := s.now()
	reg.Daemon = &DaemonDescriptor{PID: pid, StartedAt: now, LastHeartbeatAt: now}
	return reg.Daemon
}

// Heartbeat re-stamps pid as the active daemon. It returns false, and leaves
// the registry untouched, when another live daemon is recorded.
func (s *Store) Heartbeat(ctx context.Context, pid int) (bool, error) {
	own := false
	_, err := s.Update(ctx, func(reg *Registry) (bool, error) {
		if cur := s.LiveDaemon(reg); cur != nil && cur.PID != pid {
			debug.LogKV("registry", "daemon superseded", "pid", pid, "current", cur.PID)
			return false, nil
		}
		own = true
		if reg.Daemon != nil && reg.Daemon.PID == pid {
			reg.Daemon.LastHeartbeatAt = s.now()
			return true, nil
		}
		s.SetDaemon(reg, pid)
		return true, nil
	})
	return own, err
}

// ClearDaemonIfIdle removes pid's descriptor when no task is scheduled or
// running, in the same critical section as the idleness check, and reports
// whether the daemon should exit. A start that lands first keeps the daemon
// alive; one that lands after sees no descriptor and elects a new daemon.
func (s *Store) ClearDaemonIfIdle(ctx context.Context, pid int) (bool, error) {
	idle := false
	_, err := s.Update(ctx, func(reg *Registry) (bool, error) {
		if reg.HasActive() {
			return false, nil
		}
		idle = true
		if reg.Daemon == nil || reg.Daemon.PID != pid {
			return false, nil
		}
		reg.Daemon = nil
		debug.LogKV("registry", "daemon cleared", "pid", pid)
		return true, nil
	})
	return idle, err
}
