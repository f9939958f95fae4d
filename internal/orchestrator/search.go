package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"github.com/agusx1211/opencode-subagent/internal/transcript"
)

// SearchOutput lists the turns of a task's transcript matching a pattern.
type SearchOutput struct {
	OK      bool               `json:"ok"`
	Name    string             `json:"name"`
	Matches []transcript.Match `json:"matches"`
}

// Search exports the task's transcript and scans each turn's text for
// pattern, restricted to role (user, assistant or any).
func (o *Orchestrator) Search(ctx context.Context, name, pattern, role string) (*SearchOutput, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, newError(CodeNameRequired, "--name is required", nil)
	}
	if pattern == "" {
		return nil, newError(CodePatternRequired, "--pattern is required", nil)
	}
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, newError(CodePatternInvalid, "Invalid pattern", map[string]any{"message": err.Error()})
	}
	if role == "" {
		role = transcript.RoleAny
	}
	if !transcript.ValidRole(role) {
		return nil, newError(CodeRoleInvalid, "Invalid --role", map[string]any{
			"role":    role,
			"allowed": []string{transcript.RoleUser, transcript.RoleAssistant, transcript.RoleAny},
		})
	}
	if err := o.requireTool(); err != nil {
		return nil, err
	}

	rec, err := o.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec.SessionID == "" {
		return nil, newError(CodeSessionIDMissing, "Missing sessionId", map[string]any{"name": name})
	}
	exp, err := o.export(ctx, rec, rec.SessionID)
	if err != nil {
		return nil, err
	}
	matches := exp.Search(rx, role)
	if matches == nil {
		matches = []transcript.Match{}
	}
	return &SearchOutput{OK: true, Name: name, Matches: matches}, nil
}
