package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/opencode"
	"github.com/agusx1211/opencode-subagent/internal/registry"
	"github.com/agusx1211/opencode-subagent/internal/worker"
)

// StartRequest describes a start or resume.
type StartRequest struct {
	Name    string
	Prompt  string
	Model   string
	Variant string
	Agent   string
	Files   []string
	// Cwd is the task's working directory; the registry root when empty.
	Cwd string
}

// Start modes.
const (
	ModeNew    = "new"
	ModeResume = "resume"
)

// StartResult is reported once the cycle is scheduled and its worker
// launched.
type StartResult struct {
	OK        bool            `json:"ok"`
	Name      string          `json:"name"`
	PID       int             `json:"pid"`
	Status    registry.Status `json:"status"`
	Model     string          `json:"model"`
	Mode      string          `json:"mode"`
	StartedAt time.Time       `json:"startedAt"`
}

// Start schedules a new task. It fails with E_NAME_EXISTS when the name is
// taken, leaving the existing record untouched.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	return o.schedule(ctx, req, false)
}

// Resume schedules a new cycle of an existing, finished task on the same
// session.
func (o *Orchestrator) Resume(ctx context.Context, req StartRequest) (*StartResult, error) {
	return o.schedule(ctx, req, true)
}

func (o *Orchestrator) schedule(ctx context.Context, req StartRequest, resume bool) (*StartResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newError(CodeNameRequired, "--name is required", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, newError(CodePromptRequired, "--prompt is required", map[string]any{"hint": "Provide a non-empty prompt."})
	}
	if err := o.requireTool(); err != nil {
		return nil, err
	}
	cwd, err := o.resolveCwd(req.Cwd)
	if err != nil {
		return nil, err
	}

	reg, err := o.Store.Refresh(ctx, name)
	if err != nil {
		return nil, err
	}
	existing := reg.Get(name)
	switch {
	case existing != nil && !resume:
		return nil, nameExists(name, existing.Cwd, "")
	case existing == nil && resume:
		return nil, newError(CodeNameNotFound, "No task found for name", map[string]any{"name": name})
	case resume && existing.Cwd != "" && existing.Cwd != cwd:
		return nil, nameExists(name, existing.Cwd, cwd)
	case resume && existing.Status.Active():
		return nil, alreadyRunning(name, existing)
	}

	model, variant := o.resolveEngine(req, existing, resume)
	title := opencode.SessionTitle(name)
	mode := ModeNew
	sessionID := ""
	if resume {
		mode = ModeResume
		sessionID = existing.SessionID
		if sessionID == "" {
			sessionID = o.Tool.DiscoverSessionID(ctx, title, cwd, o.Cfg.DiscoverQuickAttempts)
		}
		if sessionID == "" {
			return nil, newError(CodeSessionNotFound, "No session found for name", map[string]any{"name": name})
		}
	}

	rec := &registry.AgentRecord{
		Name:      name,
		SessionID: sessionID,
		StartedAt: o.Store.Now(),
		Model:     model,
		Variant:   variant,
		Prompt:    req.Prompt,
		Cwd:       cwd,
	}
	scheduled, err := o.Store.Schedule(ctx, rec, resume)
	if err != nil {
		return nil, mapScheduleError(err, name, cwd)
	}

	o.EnsureDaemon(ctx)

	payload := &worker.Payload{
		Name:        name,
		Prompt:      req.Prompt,
		Cwd:         cwd,
		Title:       title,
		Agent:       req.Agent,
		Model:       model,
		Variant:     variant,
		SessionID:   scheduled.SessionID,
		Files:       req.Files,
		StartedAt:   scheduled.StartedAt,
		Root:        o.Cfg.Root,
		ResumeCount: scheduled.ResumeCount,
	}
	pid, err := o.Launcher.Launch(ctx, payload)
	if err != nil {
		o.abandon(ctx, scheduled, err)
		return nil, err
	}

	debug.LogKV("orchestrator", "task scheduled",
		"name", name,
		"mode", mode,
		"worker_pid", pid,
		"model", model,
		"resume_count", scheduled.ResumeCount,
	)
	return &StartResult{
		OK:        true,
		Name:      name,
		PID:       pid,
		Status:    registry.StatusScheduled,
		Model:     model,
		Mode:      mode,
		StartedAt: scheduled.StartedAt,
	}, nil
}

// resolveEngine picks model and variant: flag, then environment, then the
// previous cycle's value on resume, then the configured default.
func (o *Orchestrator) resolveEngine(req StartRequest, existing *registry.AgentRecord, resume bool) (model, variant string) {
	model = firstNonEmpty(req.Model, o.Cfg.EnvModel)
	variant = firstNonEmpty(req.Variant, o.Cfg.EnvVariant)
	if resume && existing != nil {
		if model == "" {
			model = existing.Model
		}
		if variant == "" {
			variant = existing.Variant
		}
	}
	return firstNonEmpty(model, o.Cfg.DefaultModel), firstNonEmpty(variant, o.Cfg.DefaultVariant)
}

// abandon finishes a cycle whose worker never started, so it does not sit
// in scheduled with no process to reconcile against.
func (o *Orchestrator) abandon(ctx context.Context, rec *registry.AgentRecord, cause error) {
	_, err := o.Store.Mutate(ctx, rec.Name, func(r *registry.AgentRecord) bool {
		if !r.Generation().Equal(rec.Generation()) || r.Status != registry.StatusScheduled {
			return false
		}
		now := o.Store.Now()
		code := 1
		r.Status = registry.StatusDone
		r.ExitCode = &code
		r.FinishedAt = &now
		r.Error = cause.Error()
		return true
	})
	if err != nil {
		debug.LogKV("orchestrator", "abandon failed", "name", rec.Name, "error", err)
	}
}

func mapScheduleError(err error, name, cwd string) error {
	switch {
	case errors.Is(err, registry.ErrNameExists):
		return nameExists(name, "", "")
	case errors.Is(err, registry.ErrCwdMismatch):
		return nameExists(name, "", cwd)
	case errors.Is(err, registry.ErrNotFound):
		return newError(CodeNameNotFound, "No task found for name", map[string]any{"name": name})
	case errors.Is(err, registry.ErrActive):
		return newError(CodeAlreadyRunning, "Task is still active", map[string]any{"name": name})
	}
	return fmt.Errorf("scheduling %s: %w", name, err)
}

func nameExists(name, existingCwd, cwd string) *Error {
	details := map[string]any{"name": name}
	if existingCwd != "" {
		details["existingCwd"] = existingCwd
	}
	if cwd != "" {
		details["cwd"] = cwd
	}
	return newError(CodeNameExists, "Name already exists", details)
}

func alreadyRunning(name string, rec *registry.AgentRecord) *Error {
	return newError(CodeAlreadyRunning, "Task is still active", map[string]any{
		"name":   name,
		"status": rec.Status,
		"pid":    rec.PID,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
