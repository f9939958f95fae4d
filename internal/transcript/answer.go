package transcript

import "strings"

// LastAssistantText returns the trimmed text of the last assistant turn
// that carries any text. Exports without a messages array are walked for
// role/content nodes instead.
func (e *Export) LastAssistantText() string {
	if e == nil {
		return ""
	}
	last := ""
	if e.structured {
		for _, m := range e.messages {
			if m.Role != "assistant" {
				continue
			}
			if m.Text != "" {
				last = strings.TrimSpace(m.Text)
			}
		}
		return last
	}

	walk(e.root, func(node map[string]any) {
		if role, _ := node["role"].(string); role != "assistant" {
			return
		}
		if text, ok := coerceContent(node["content"]); ok {
			last = strings.TrimSpace(text)
		}
	})
	return last
}
