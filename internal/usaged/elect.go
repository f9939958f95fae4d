// Package usaged is the per-registry usage daemon: a single detached
// process that keeps token telemetry of active and recently finished tasks
// approximately fresh, so no command ever blocks on an export.
package usaged

import (
	"context"

	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/proc"
	"github.com/agusx1211/opencode-subagent/internal/registry"
)

// CommandName is the hidden subcommand the daemon runs.
const CommandName = "_usage-daemon"

// Spawner starts a daemon process and returns its pid.
type Spawner func() (int, error)

// DetachedSpawner re-executes the current binary as the daemon, rooted at
// root.
func DetachedSpawner(root string) Spawner {
	return func() (int, error) {
		return proc.StartDetached(proc.Detached{
			Args:  []string{CommandName},
			Dir:   root,
			Label: "usage-daemon",
		})
	}
}

// Elect makes sure a live daemon is recorded for the registry. Under the
// lock it keeps a live recorded daemon, or spawns one and records it. The
// returned flag reports whether this call spawned the daemon. Concurrent
// callers serialize on the lock, so at most one of them spawns.
func Elect(ctx context.Context, store *registry.Store, spawn Spawner) (*registry.DaemonDescriptor, bool, error) {
	var desc registry.DaemonDescriptor
	spawned := false
	_, err := store.Update(ctx, func(reg *registry.Registry) (bool, error) {
		if cur := store.LiveDaemon(reg); cur != nil {
			desc = *cur
			return false, nil
		}
		pid, err := spawn()
		if err != nil {
			return false, err
		}
		desc = *store.SetDaemon(reg, pid)
		spawned = true
		return true, nil
	})
	if err != nil {
		debug.LogKV("usaged", "election failed", "error", err)
		return nil, false, err
	}
	if spawned {
		debug.LogKV("usaged", "daemon elected", "pid", desc.PID)
	}
	return &desc, spawned, nil
}
