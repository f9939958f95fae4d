package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/registry"
)

// DialogTokens returns input+cache-read tokens of the last assistant turn
// reporting a positive count. Zero-token turns (streaming placeholders) are
// skipped so a mid-stream snapshot never resets the count. nil when no
// assistant turn reports tokens.
func DialogTokens(messages []Message) *int {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != "assistant" {
			continue
		}
		if d := m.Tokens.Dialog(); d > 0 {
			v := int(d)
			return &v
		}
	}
	return nil
}

// ContextWindow resolves the model's context window size from the export's
// own model metadata, falling back to the models table keyed by the record's
// model. 0 when unknown.
func (e *Export) ContextWindow(models map[string]int, model string) int {
	if e != nil {
		root := asObject(e.root)
		meta := asObject(asObject(root["info"])["model"])
		if meta == nil {
			meta = asObject(root["model"])
		}
		for _, key := range []string{"contextWindow", "context", "context_window"} {
			if n, ok := asNumber(meta[key]); ok && n > 0 {
				return int(n)
			}
		}
	}
	if model != "" {
		if n, ok := models[model]; ok && n > 0 {
			return n
		}
	}
	return 0
}

// Usage computes the usage snapshot of the export.
func (e *Export) Usage(models map[string]int, model string) *registry.Usage {
	u := &registry.Usage{
		MessageCount: e.MessageCount(),
		DialogTokens: DialogTokens(e.Messages()),
	}
	if u.DialogTokens != nil {
		if window := e.ContextWindow(models, model); window > 0 {
			pct := float64(*u.DialogTokens) / float64(window)
			u.ContextFullPct = &pct
		}
	}
	return u
}

// Children returns the sub-tasks the session spawned through its task tool,
// one per child session in first-seen order, each carrying the latest state
// reported for it.
func (e *Export) Children() []registry.ChildAgent {
	var order []string
	byID := map[string]registry.ChildAgent{}
	for _, m := range e.Messages() {
		for _, p := range m.Parts {
			if p.Type != "tool" || p.Tool != "task" {
				continue
			}
			meta := asObject(p.State["metadata"])
			sid, _ := meta["sessionId"].(string)
			if sid == "" {
				continue
			}
			child := registry.ChildAgent{SessionID: sid, Model: modelRef(meta["model"])}
			child.Status, _ = p.State["status"].(string)
			child.Title, _ = p.State["title"].(string)
			tm := asObject(p.State["time"])
			child.StartedAt = timeString(tm["start"])
			child.FinishedAt = timeString(tm["end"])

			if _, seen := byID[sid]; !seen {
				order = append(order, sid)
			}
			byID[sid] = child
		}
	}
	out := make([]registry.ChildAgent, 0, len(order))
	for _, sid := range order {
		out = append(out, byID[sid])
	}
	return out
}

// modelRef renders a model reference as provider/model.
func modelRef(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case map[string]any:
		provider, _ := m["providerID"].(string)
		model, _ := m["modelID"].(string)
		if provider == "" || model == "" {
			return ""
		}
		return provider + "/" + model
	}
	return ""
}

// timeString accepts an ISO timestamp or epoch milliseconds.
func timeString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if ms, ok := asNumber(v); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339Nano)
	}
	return ""
}

// ReadStoredUsage computes a child session's usage from the wrapped tool's
// per-session message storage (<storageDir>/message/<sessionID>/*.json).
// Files that fail to parse are skipped, since a streaming child may be
// mid-write. It returns nil when the session directory cannot be read.
func ReadStoredUsage(storageDir, sessionID string) *registry.Usage {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) {
		return nil
	}
	dir := filepath.Join(storageDir, "message", sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var messages []Message
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		obj := asObject(v)
		if obj == nil {
			continue
		}
		switch {
		case isArray(obj["messages"]):
			for _, item := range obj["messages"].([]any) {
				messages = append(messages, parseMessage(item))
			}
		case asObject(obj["message"]) != nil:
			messages = append(messages, parseMessage(obj["message"]))
		default:
			messages = append(messages, parseMessage(obj))
		}
	}
	return &registry.Usage{MessageCount: len(messages), DialogTokens: DialogTokens(messages)}
}

func isArray(v any) bool {
	_, ok := v.([]any)
	return ok
}
