package orchestrator

import (
	"context"
	"strings"

	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/opencode"
	"github.com/agusx1211/opencode-subagent/internal/registry"
)

// ResultOutput is a task's final answer. LastAssistantText is nil while the
// task is still active or when the transcript holds no assistant text.
type ResultOutput struct {
	OK                bool            `json:"ok"`
	Name              string          `json:"name"`
	SessionID         string          `json:"sessionId,omitempty"`
	Status            registry.Status `json:"status"`
	LastAssistantText *string         `json:"lastAssistantText"`
}

// Text is the answer as plain text, empty when there is none.
func (r *ResultOutput) Text() string {
	if r == nil || r.LastAssistantText == nil {
		return ""
	}
	return *r.LastAssistantText
}

// Result returns the last assistant turn of a finished task. A missing
// session id is resolved by title and persisted on the record.
func (o *Orchestrator) Result(ctx context.Context, name string) (*ResultOutput, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(CodeNameRequired, "--name is required", nil)
	}
	if err := o.requireTool(); err != nil {
		return nil, err
	}
	rec, err := o.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	out := &ResultOutput{OK: true, Name: name, Status: rec.Status}
	if rec.Status.Active() {
		return out, nil
	}

	sessionID, err := o.ensureSessionID(ctx, rec)
	if err != nil {
		return nil, err
	}
	exp, err := o.export(ctx, rec, sessionID)
	if err != nil {
		return nil, err
	}
	out.SessionID = sessionID
	if text := exp.LastAssistantText(); text != "" {
		out.LastAssistantText = &text
	}
	return out, nil
}

// ensureSessionID returns rec's session id, discovering and recording it
// when the worker never did.
func (o *Orchestrator) ensureSessionID(ctx context.Context, rec *registry.AgentRecord) (string, error) {
	if rec.SessionID != "" {
		return rec.SessionID, nil
	}
	dir := rec.Cwd
	if dir == "" {
		dir = o.Cfg.Root
	}
	sessionID := o.Tool.DiscoverSessionID(ctx, opencode.SessionTitle(rec.Name), dir, o.Cfg.DiscoverQuickAttempts)
	if sessionID == "" {
		return "", newError(CodeSessionIDMissing, "Missing sessionId", map[string]any{"name": rec.Name})
	}
	_, err := o.Store.Mutate(ctx, rec.Name, func(r *registry.AgentRecord) bool {
		if !r.Generation().Equal(rec.Generation()) || r.SessionID != "" {
			return false
		}
		r.SessionID = sessionID
		return true
	})
	if err != nil {
		debug.LogKV("orchestrator", "session id persist failed", "name", rec.Name, "error", err)
	}
	return sessionID, nil
}
