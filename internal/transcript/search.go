package transcript

import (
	"regexp"
	"strings"
)

// Search roles.
const (
	RoleAny       = "any"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const snippetLimit = 200

// Match is one turn whose text matched a search pattern.
type Match struct {
	Index   int    `json:"index"`
	Role    string `json:"role"`
	Offset  int    `json:"offset"`
	Snippet string `json:"snippet"`
}

// ValidRole reports whether role is accepted by Search.
func ValidRole(role string) bool {
	switch role {
	case RoleAny, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Search scans the text of every turn restricted to role and returns the
// matching turns in transcript order. Offset is the byte offset of the first
// match within the turn text.
func (e *Export) Search(rx *regexp.Regexp, role string) []Match {
	if e == nil || rx == nil {
		return nil
	}
	if role == "" {
		role = RoleAny
	}
	var matches []Match

	if e.structured {
		for _, m := range e.messages {
			r := m.Role
			if r == "" {
				r = "unknown"
			}
			if role != RoleAny && r != role {
				continue
			}
			if loc := rx.FindStringIndex(m.Text); loc != nil {
				matches = append(matches, Match{Index: m.Index, Role: r, Offset: loc[0], Snippet: Snippet(m.Text)})
			}
		}
		return matches
	}

	i := 0
	walk(e.root, func(node map[string]any) {
		r, ok := node["role"].(string)
		if !ok {
			return
		}
		content, present := node["content"]
		if !present {
			return
		}
		defer func() { i++ }()
		if role != RoleAny && r != role {
			return
		}
		text, _ := coerceContent(content)
		if loc := rx.FindStringIndex(text); loc != nil {
			matches = append(matches, Match{Index: i, Role: r, Offset: loc[0], Snippet: Snippet(text)})
		}
	})
	return matches
}

// Snippet collapses whitespace runs and truncates to a short preview.
func Snippet(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) > snippetLimit {
		return string(runes[:snippetLimit])
	}
	return collapsed
}
