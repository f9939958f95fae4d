// Package orchestrator implements the task commands: start, resume, status,
// result, search and cancel. Each operation is one short-lived pass over the
// registry; the long-running work happens in the detached worker and usage
// daemon processes these operations launch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agusx1211/opencode-subagent/internal/config"
	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/opencode"
	"github.com/agusx1211/opencode-subagent/internal/registry"
	"github.com/agusx1211/opencode-subagent/internal/transcript"
	"github.com/agusx1211/opencode-subagent/internal/usaged"
	"github.com/agusx1211/opencode-subagent/internal/worker"
)

// Tool is the part of the wrapped CLI the commands drive directly.
type Tool interface {
	Resolve() (string, error)
	DiscoverSessionID(ctx context.Context, title, dir string, attempts int) string
	Export(ctx context.Context, sessionID, dir string) (*transcript.Export, error)
}

// Launcher hands a scheduled cycle to a worker and returns the worker pid.
type Launcher interface {
	Launch(ctx context.Context, p *worker.Payload) (int, error)
}

// Orchestrator runs the task commands against one registry root.
type Orchestrator struct {
	Cfg      *config.Config
	Store    *registry.Store
	Tool     Tool
	Launcher Launcher
	// Elect makes sure a usage daemon runs for the registry. Failures are
	// logged and never fail the calling command.
	Elect func(ctx context.Context) error
}

// New wires an Orchestrator to the real registry, tool, worker launcher and
// daemon election for cfg.
func New(cfg *config.Config) *Orchestrator {
	store := registry.New(cfg)
	spawn := usaged.DetachedSpawner(cfg.Root)
	return &Orchestrator{
		Cfg:      cfg,
		Store:    store,
		Tool:     opencode.New(cfg),
		Launcher: worker.NewLauncher(store),
		Elect: func(ctx context.Context) error {
			_, _, err := usaged.Elect(ctx, store, spawn)
			return err
		},
	}
}

// EnsureDaemon elects the usage daemon, best-effort.
func (o *Orchestrator) EnsureDaemon(ctx context.Context) {
	if o.Elect == nil {
		return
	}
	if err := o.Elect(ctx); err != nil {
		debug.LogKV("orchestrator", "daemon election failed", "error", err)
	}
}

func (o *Orchestrator) requireTool() error {
	if _, err := o.Tool.Resolve(); err != nil {
		return newError(CodeCmdMissing, "Missing required command: "+o.Cfg.Command, map[string]any{
			"hint": fmt.Sprintf("Install '%s' and ensure it is on PATH.", o.Cfg.Command),
		})
	}
	return nil
}

// resolveCwd returns the absolute working directory for a task, defaulting
// to the registry root.
func (o *Orchestrator) resolveCwd(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		input = o.Cfg.Root
	}
	cwd, err := filepath.Abs(input)
	if err != nil {
		return "", newError(CodeCwdInvalid, "Invalid --cwd", map[string]any{"cwd": input})
	}
	info, err := os.Stat(cwd)
	if err != nil || !info.IsDir() {
		return "", newError(CodeCwdInvalid, "Invalid --cwd", map[string]any{"cwd": cwd})
	}
	return cwd, nil
}

// lookup reconciles name and returns its record, or E_NAME_NOT_FOUND.
func (o *Orchestrator) lookup(ctx context.Context, name string) (*registry.AgentRecord, error) {
	reg, err := o.Store.Refresh(ctx, name)
	if err != nil {
		return nil, err
	}
	rec := reg.Get(name)
	if rec == nil {
		return nil, newError(CodeNameNotFound, "No session found for name", map[string]any{"name": name})
	}
	return rec, nil
}

// export runs the transcript export for rec and maps tool failures onto
// typed errors.
func (o *Orchestrator) export(ctx context.Context, rec *registry.AgentRecord, sessionID string) (*transcript.Export, error) {
	dir := rec.Cwd
	if dir == "" {
		dir = o.Cfg.Root
	}
	exp, err := o.Tool.Export(ctx, sessionID, dir)
	if err == nil {
		return exp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	debug.LogKV("orchestrator", "export failed", "name", rec.Name, "session_id", sessionID, "error", err)
	if errors.Is(err, opencode.ErrExportTimeout) {
		return nil, newError(CodeExportTimeout, "Export timed out", nil)
	}
	details := map[string]any{"message": err.Error(), "snippet": ""}
	var exportErr *opencode.ExportError
	if errors.As(err, &exportErr) {
		details["snippet"] = snippet(exportErr.Output, exportSnippetLimit)
	}
	return nil, newError(CodeExportFailed, "Export failed", details)
}

const exportSnippetLimit = 1024

// snippet cuts s to at most limit bytes without splitting a rune.
func snippet(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "")
}
