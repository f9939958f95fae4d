package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/registry"
)

// StatusRequest selects what Status reports and whether it blocks.
type StatusRequest struct {
	// Name restricts the report to one task; all tasks when empty.
	Name string
	// Wait blocks until any reported task changes status.
	Wait bool
	// WaitTerminal blocks until the named task is done or unknown.
	WaitTerminal bool
}

// AgentStatus is the caller-facing view of a record. Prompts and telemetry
// failure details stay in the registry.
type AgentStatus struct {
	Name        string                `json:"name"`
	Status      registry.Status       `json:"status"`
	PID         *int                  `json:"pid"`
	ExitCode    *int                  `json:"exitCode"`
	StartedAt   time.Time             `json:"startedAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
	FinishedAt  *time.Time            `json:"finishedAt"`
	Usage       *registry.Usage       `json:"usage,omitempty"`
	Model       string                `json:"model,omitempty"`
	Variant     string                `json:"variant,omitempty"`
	ResumeCount int                   `json:"resumeCount"`
	Children    []registry.ChildAgent `json:"children,omitempty"`
}

// StatusChange is one task whose status differs between two polls.
type StatusChange struct {
	Name           string           `json:"name"`
	PreviousStatus *registry.Status `json:"previousStatus"`
	Status         registry.Status  `json:"status"`
	ExitCode       *int             `json:"exitCode"`
	FinishedAt     *time.Time       `json:"finishedAt"`
}

// StatusResult is the outcome of Status. Changed is only reported for
// waits, where an empty list means nothing changed before the deadline.
type StatusResult struct {
	Agents   []AgentStatus
	Changed  []StatusChange
	Waited   bool
	TimedOut bool
}

func (r StatusResult) MarshalJSON() ([]byte, error) {
	agents := r.Agents
	if agents == nil {
		agents = []AgentStatus{}
	}
	out := map[string]any{"ok": true, "agents": agents}
	if r.Waited {
		changed := r.Changed
		if changed == nil {
			changed = []StatusChange{}
		}
		out["changed"] = changed
	}
	if r.TimedOut {
		out["timedOut"] = true
	}
	return json.Marshal(out)
}

// Sanitize projects a record onto its status view.
func Sanitize(rec *registry.AgentRecord) AgentStatus {
	return AgentStatus{
		Name:        rec.Name,
		Status:      rec.Status,
		PID:         rec.PID,
		ExitCode:    rec.ExitCode,
		StartedAt:   rec.StartedAt,
		UpdatedAt:   rec.UpdatedAt,
		FinishedAt:  rec.FinishedAt,
		Usage:       rec.Usage,
		Model:       rec.Model,
		Variant:     rec.Variant,
		ResumeCount: rec.ResumeCount,
		Children:    rec.Children,
	}
}

// Status reconciles liveness and reports the selected tasks, optionally
// blocking per req. Waits poll every StatusPoll and give up after
// WaitTimeout (never when it is zero, though ctx still applies).
func (o *Orchestrator) Status(ctx context.Context, req StatusRequest) (*StatusResult, error) {
	if req.WaitTerminal && req.Name == "" {
		return nil, newError(CodeWaitNameRequired, "--wait-terminal requires --name", nil)
	}

	prev, err := o.snapshot(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if !req.Wait && !req.WaitTerminal {
		return &StatusResult{Agents: sanitizeAll(prev)}, nil
	}
	if req.WaitTerminal && isTerminal(prev, req.Name) {
		return &StatusResult{Agents: sanitizeAll(prev), Waited: true}, nil
	}

	var deadline time.Time
	if o.Cfg.WaitTimeout > 0 {
		deadline = time.Now().Add(o.Cfg.WaitTimeout)
	}
	ticker := time.NewTicker(o.Cfg.StatusPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		next, err := o.snapshot(ctx, req.Name)
		if err != nil {
			return nil, err
		}
		changed := DiffStatuses(prev, next)
		if req.WaitTerminal {
			if isTerminal(next, req.Name) {
				return &StatusResult{Agents: sanitizeAll(next), Changed: changed, Waited: true}, nil
			}
		} else if len(changed) > 0 {
			return &StatusResult{Agents: sanitizeAll(next), Changed: changed, Waited: true}, nil
		}
		prev = next
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return &StatusResult{Agents: sanitizeAll(prev), Waited: true, TimedOut: true}, nil
		}
	}
}

// Agents reconciles and returns the status view of the selected tasks.
func (o *Orchestrator) Agents(ctx context.Context, name string) ([]AgentStatus, error) {
	recs, err := o.snapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	return sanitizeAll(recs), nil
}

func (o *Orchestrator) snapshot(ctx context.Context, name string) ([]*registry.AgentRecord, error) {
	var names []string
	if name != "" {
		names = []string{name}
	}
	reg, err := o.Store.Refresh(ctx, names...)
	if err != nil {
		return nil, err
	}
	return reg.List(name), nil
}

// DiffStatuses lists tasks in next that are new or whose status differs
// from prev.
func DiffStatuses(prev, next []*registry.AgentRecord) []StatusChange {
	before := make(map[string]registry.Status, len(prev))
	for _, rec := range prev {
		before[rec.Name] = rec.Status
	}
	var changes []StatusChange
	for _, rec := range next {
		old, ok := before[rec.Name]
		if ok && old == rec.Status {
			continue
		}
		change := StatusChange{
			Name:       rec.Name,
			Status:     rec.Status,
			ExitCode:   rec.ExitCode,
			FinishedAt: rec.FinishedAt,
		}
		if ok {
			change.PreviousStatus = &old
		}
		changes = append(changes, change)
	}
	return changes
}

func isTerminal(recs []*registry.AgentRecord, name string) bool {
	for _, rec := range recs {
		if rec.Name == name {
			return rec.Status.Terminal()
		}
	}
	return false
}

func sanitizeAll(recs []*registry.AgentRecord) []AgentStatus {
	out := make([]AgentStatus, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Sanitize(rec))
	}
	return out
}
