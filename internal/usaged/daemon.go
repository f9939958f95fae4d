package usaged

import (
	"context"
	"errors"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/config"
	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/registry"
	"github.com/agusx1211/opencode-subagent/internal/transcript"
)

// Exporter is the slice of the wrapped tool the daemon uses.
type Exporter interface {
	Export(ctx context.Context, sessionID, dir string) (*transcript.Export, error)
	ModelContextWindows(ctx context.Context, cachePath string, ttl time.Duration) map[string]int
}

// Daemon is the telemetry loop of one registry root.
type Daemon struct {
	Store *registry.Store
	Tool  Exporter
	Cfg   *config.Config
	// PID identifies this daemon in the registry descriptor.
	PID int

	log    *UsageLog
	models map[string]int
}

// New returns a daemon for cfg's registry identified by pid.
func New(cfg *config.Config, store *registry.Store, tool Exporter, pid int) *Daemon {
	return &Daemon{
		Store: store,
		Tool:  tool,
		Cfg:   cfg,
		PID:   pid,
		log: &UsageLog{
			Path:      cfg.UsageLogPath(),
			MaxBytes:  cfg.UsageLogMaxBytes,
			TailLines: cfg.UsageLogTailLines,
		},
	}
}

// Run loops until another live daemon is recorded, no task is scheduled or
// running, or ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	debug.LogKV("usaged", "daemon start", "pid", d.PID, "root", d.Cfg.Root)
	for {
		exit, err := d.tick(ctx)
		if exit {
			debug.LogKV("usaged", "daemon exit", "pid", d.PID)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			debug.LogKV("usaged", "tick failed", "error", err)
		}

		t := time.NewTimer(d.Cfg.DaemonTick)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// tick is one pass of the loop. exit reports that the daemon should stop.
func (d *Daemon) tick(ctx context.Context) (exit bool, err error) {
	reg, err := d.Store.Refresh(ctx)
	if err != nil {
		return false, err
	}
	if cur := d.Store.LiveDaemon(reg); cur != nil && cur.PID != d.PID {
		debug.LogKV("usaged", "yielding to daemon", "pid", d.PID, "current", cur.PID)
		return true, nil
	}
	own, err := d.Store.Heartbeat(ctx, d.PID)
	if err != nil {
		return false, err
	}
	if !own {
		return true, nil
	}

	now := d.Store.Now()
	for _, rec := range reg.List("") {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if ShouldRefresh(rec, now, d.Cfg.RunningRefresh) {
			d.refresh(ctx, rec)
		}
	}

	idle, err := d.Store.ClearDaemonIfIdle(ctx, d.PID)
	if err != nil {
		return false, err
	}
	return idle, nil
}

func (d *Daemon) modelTable(ctx context.Context) map[string]int {
	if d.models == nil {
		d.models = d.Tool.ModelContextWindows(ctx, d.Cfg.ModelCachePath(), d.Cfg.ModelCacheTTL)
	}
	return d.models
}

// refresh exports rec's session and commits its usage. The commit is
// skipped if the record moved to another session meanwhile.
func (d *Daemon) refresh(ctx context.Context, rec *registry.AgentRecord) {
	dir := rec.Cwd
	if dir == "" {
		dir = d.Cfg.Root
	}
	sessionID := rec.SessionID

	exp, err := d.Tool.Export(ctx, sessionID, dir)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.recordFailure(ctx, rec, err)
		return
	}

	usage := exp.Usage(d.modelTable(ctx), rec.Model)
	children := exp.Children()
	for i := range children {
		children[i].Usage = transcript.ReadStoredUsage(d.Cfg.StorageDir, children[i].SessionID)
	}

	now := d.Store.Now()
	applied, err := d.Store.UpdateUsage(ctx, rec.Name, sessionID, func(r *registry.AgentRecord) {
		r.Usage = usage
		r.Children = children
		r.UsageUpdatedAt = &now
		r.UsageRetryAt = nil
		r.UsageAttempt = 0
		r.UsageError = ""
	})
	if err != nil {
		debug.LogKV("usaged", "usage commit failed", "name", rec.Name, "error", err)
		return
	}
	debug.LogKV("usaged", "usage refreshed", "name", rec.Name, "session_id", sessionID, "applied", applied, "messages", usage.MessageCount)
}

func (d *Daemon) recordFailure(ctx context.Context, rec *registry.AgentRecord, cause error) {
	attempt := rec.UsageAttempt + 1
	now := d.Store.Now()
	retryAt := now.Add(RetryDelay(attempt, d.Cfg.RetryBase, d.Cfg.RetryMax))
	msg := cause.Error()

	if err := d.log.Append(LogEntry{
		Time:      now,
		Name:      rec.Name,
		SessionID: rec.SessionID,
		Error:     msg,
		Attempt:   attempt,
		RetryAt:   retryAt,
	}); err != nil {
		debug.LogKV("usaged", "usage log append failed", "error", err)
	}

	_, err := d.Store.UpdateUsage(ctx, rec.Name, rec.SessionID, func(r *registry.AgentRecord) {
		r.UsageRetryAt = &retryAt
		r.UsageAttempt = attempt
		r.UsageError = msg
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		debug.LogKV("usaged", "retry commit failed", "name", rec.Name, "error", err)
	}
	debug.LogKV("usaged", "export failed", "name", rec.Name, "attempt", attempt, "retry_at", retryAt, "error", msg)
}
