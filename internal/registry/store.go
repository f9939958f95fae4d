// Package registry is the durable, lock-protected task registry shared by
// every command invocation, worker and usage daemon of one registry root.
//
// The registry file is the only source of truth. Every mutation acquires
// the lock, reloads the file, applies the change and atomically replaces
// the file, so concurrent processes never lose each other's updates.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/buildinfo"
	"github.com/agusx1211/opencode-subagent/internal/config"
	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/proc"
)

var (
	ErrNameExists  = errors.New("name already exists")
	ErrNotFound    = errors.New("no task with that name")
	ErrCwdMismatch = errors.New("name is bound to a different working directory")
	ErrActive      = errors.New("task is still active")
)

// Store is a handle on one registry root. It holds no registry state of its
// own.
type Store struct {
	dir         string
	path        string
	lockPath    string
	lockTimeout time.Duration
	lockRetry   time.Duration

	alive func(pid int) bool
	now   func() time.Time
}

// New returns a Store for the registry described by cfg.
func New(cfg *config.Config) *Store {
	return &Store{
		dir:         cfg.Dir(),
		path:        cfg.RegistryPath(),
		lockPath:    cfg.LockPath(),
		lockTimeout: cfg.LockTimeout,
		lockRetry:   cfg.LockRetry,
		alive:       proc.IsAlive,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Dir returns the registry directory.
func (s *Store) Dir() string { return s.dir }

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time { return s.now() }

// Alive reports process liveness through the store's probe.
func (s *Store) Alive(pid int) bool { return s.alive(pid) }

// Load reads the registry without locking. A missing or corrupt file yields
// an empty registry.
func (s *Store) Load() *Registry {
	empty := &Registry{Version: buildinfo.FormatVersion(), Agents: map[string]*AgentRecord{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return empty
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		debug.LogKV("registry", "corrupt registry ignored", "path", s.path, "error", err)
		return empty
	}
	if reg.Agents == nil {
		reg.Agents = map[string]*AgentRecord{}
	}
	for name, rec := range reg.Agents {
		if rec == nil {
			delete(reg.Agents, name)
			continue
		}
		if rec.Name == "" {
			rec.Name = name
		}
	}
	if reg.Version == 0 {
		reg.Version = empty.Version
	}
	return &reg
}

// Save atomically replaces the registry file: temp file in the same
// directory, fsync, rename, then a best-effort directory fsync.
func (s *Store) Save(reg *Registry) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating registry dir: %w", err)
	}
	reg.Version = buildinfo.FormatVersion()

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename registry: %w", err)
	}

	if d, err := os.Open(s.dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// Update is the read-modify-write primitive: under the lock it reloads the
// registry, calls fn, and saves when fn reports a change.
func (s *Store) Update(ctx context.Context, fn func(reg *Registry) (changed bool, err error)) (*Registry, error) {
	var out *Registry
	err := s.WithLock(ctx, func() error {
		reg := s.Load()
		changed, err := fn(reg)
		if err != nil {
			return err
		}
		if changed {
			reg.UpdatedAt = s.now()
			if err := s.Save(reg); err != nil {
				return err
			}
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Schedule records rec as a new scheduled cycle. A plain start fails with
// ErrNameExists when the name is taken. A resume requires an existing,
// inactive record bound to the same cwd, increments its resume count and
// keeps its previous telemetry until the daemon refreshes it.
func (s *Store) Schedule(ctx context.Context, rec *AgentRecord, resume bool) (*AgentRecord, error) {
	var scheduled *AgentRecord
	_, err := s.Update(ctx, func(reg *Registry) (bool, error) {
		existing := reg.Get(rec.Name)
		next := *rec
		next.Status = StatusScheduled
		next.PID = nil
		next.ExitCode = nil
		next.FinishedAt = nil
		next.UpdatedAt = next.StartedAt

		switch {
		case !resume && existing != nil:
			return false, ErrNameExists
		case resume && existing == nil:
			return false, ErrNotFound
		case resume:
			if existing.Cwd != "" && existing.Cwd != rec.Cwd {
				return false, ErrCwdMismatch
			}
			// A scheduled cycle has no pid until its worker reports in, so
			// only a recorded pid that is gone frees the name.
			if existing.Status.Active() && (existing.Pid() <= 0 || s.alive(existing.Pid())) {
				return false, ErrActive
			}
			next.ResumeCount = existing.ResumeCount + 1
			if next.SessionID == "" {
				next.SessionID = existing.SessionID
			}
			if next.SessionID == existing.SessionID {
				next.Usage = existing.Usage
				next.UsageUpdatedAt = existing.UsageUpdatedAt
				next.Children = existing.Children
			}
		default:
			next.ResumeCount = 0
		}

		reg.Agents[rec.Name] = &next
		scheduled = &next
		debug.LogKV("registry", "scheduled", "name", rec.Name, "resume", resume, "resume_count", next.ResumeCount)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return scheduled, nil
}

// Mutate applies fn to the named record under the lock. fn returns false to
// leave the registry untouched. ErrNotFound is returned for an unknown name.
func (s *Store) Mutate(ctx context.Context, name string, fn func(rec *AgentRecord) bool) (*AgentRecord, error) {
	var out *AgentRecord
	_, err := s.Update(ctx, func(reg *Registry) (bool, error) {
		rec := reg.Get(name)
		if rec == nil {
			return false, ErrNotFound
		}
		changed := fn(rec)
		if changed {
			rec.UpdatedAt = s.now()
		}
		copied := *rec
		out = &copied
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MutateWithRetry retries Mutate on lock contention. It is used on the
// worker path, where losing a running → done write is worse than delaying it.
func (s *Store) MutateWithRetry(ctx context.Context, attempts int, name string, fn func(rec *AgentRecord) bool) (*AgentRecord, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		rec, err := s.Mutate(ctx, name, fn)
		if err == nil || !errors.Is(err, ErrLockTimeout) {
			return rec, err
		}
		lastErr = err
		debug.LogKV("registry", "mutate retry", "name", name, "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * s.lockRetry):
		}
	}
	return nil, lastErr
}

// UpdateUsage applies a telemetry update only while the record still carries
// sessionID. A record that was resumed onto another session, or replaced,
// ignores the update. It reports whether the update was applied.
func (s *Store) UpdateUsage(ctx context.Context, name, sessionID string, fn func(rec *AgentRecord)) (bool, error) {
	applied := false
	_, err := s.Update(ctx, func(reg *Registry) (bool, error) {
		rec := reg.Get(name)
		if rec == nil || sessionID == "" || rec.SessionID != sessionID {
			return false, nil
		}
		fn(rec)
		applied = true
		return true, nil
	})
	return applied, err
}
