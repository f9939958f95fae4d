// Package transcript interprets session exports produced by the wrapped
// tool: the last assistant answer, token accounting, sub-task children and
// regex search over turns.
//
// Exports are decoded loosely. Anything that does not match the expected
// shape is skipped rather than treated as an error, so a partially written
// or older-format export still yields whatever it can.
package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/agusx1211/opencode-subagent/internal/jsonscan"
)

// Export is a parsed session export.
type Export struct {
	root     any
	messages []Message
	// structured is set when the export carries a top-level messages array.
	structured bool
}

// Message is one turn of a structured export.
type Message struct {
	Index  int
	Role   string
	Text   string
	Tokens Tokens
	Parts  []Part
}

// Tokens is the token usage reported on an assistant turn.
type Tokens struct {
	Input     float64
	CacheRead float64
}

// Dialog is the conversational context size the turn was billed for.
func (t Tokens) Dialog() float64 { return t.Input + t.CacheRead }

// Part is one content part of a turn.
type Part struct {
	Type  string
	Text  string
	Tool  string
	State map[string]any
}

// Parse extracts the first JSON value from text (which may carry log noise
// around it) and decodes it as an export.
func Parse(text string) (*Export, error) {
	raw := jsonscan.Extract(text)
	if raw == "" {
		return nil, jsonscan.ErrNoJSON
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decoding export: %w", err)
	}
	return FromValue(root), nil
}

// FromValue wraps an already decoded JSON value.
func FromValue(root any) *Export {
	e := &Export{root: root}
	obj := asObject(root)
	if list, ok := obj["messages"].([]any); ok {
		e.structured = true
		e.messages = make([]Message, 0, len(list))
		for i, item := range list {
			msg := parseMessage(item)
			msg.Index = i
			e.messages = append(e.messages, msg)
		}
	}
	return e
}

// Messages returns the turns of a structured export, nil otherwise.
func (e *Export) Messages() []Message {
	if e == nil {
		return nil
	}
	return e.messages
}

// MessageCount is the transcript length.
func (e *Export) MessageCount() int {
	return len(e.Messages())
}

func parseMessage(v any) Message {
	m := asObject(v)
	if m == nil {
		return Message{}
	}
	var msg Message

	info := asObject(m["info"])
	if info != nil {
		msg.Role, _ = info["role"].(string)
	} else {
		msg.Role, _ = m["role"].(string)
	}

	tokens := asObject(info["tokens"])
	if tokens == nil {
		tokens = asObject(m["tokens"])
	}
	if tokens != nil {
		msg.Tokens.Input, _ = asNumber(tokens["input"])
		msg.Tokens.CacheRead, _ = asNumber(asObject(tokens["cache"])["read"])
	}

	parts, _ := m["parts"].([]any)
	for _, p := range parts {
		po := asObject(p)
		if po == nil {
			continue
		}
		part := Part{State: asObject(po["state"])}
		part.Type, _ = po["type"].(string)
		part.Tool, _ = po["tool"].(string)
		if text, ok := po["text"].(string); ok {
			part.Text = text
		}
		msg.Parts = append(msg.Parts, part)
	}
	msg.Text = partsText(parts)
	return msg
}

// partsText joins the text parts of a turn, falling back to any part that
// carries text when no part is typed "text".
func partsText(parts []any) string {
	var typed, all []string
	for _, p := range parts {
		po := asObject(p)
		text, ok := po["text"].(string)
		if !ok {
			continue
		}
		all = append(all, text)
		if t, _ := po["type"].(string); t == "text" {
			typed = append(typed, text)
		}
	}
	if len(typed) > 0 {
		return strings.Join(typed, "")
	}
	return strings.Join(all, "")
}

// coerceContent flattens a role/content node's content: a string, or an
// array of strings and {text} objects. ok is false for any other shape.
func coerceContent(content any) (string, bool) {
	switch c := content.(type) {
	case string:
		return c, true
	case []any:
		var b strings.Builder
		for _, part := range c {
			switch p := part.(type) {
			case string:
				b.WriteString(p)
			case map[string]any:
				if text, ok := p["text"].(string); ok {
					b.WriteString(text)
				}
			}
		}
		return b.String(), true
	default:
		return "", false
	}
}

// walk visits every object in v depth-first. Object keys are visited in
// sorted order so results are deterministic.
func walk(v any, fn func(obj map[string]any)) {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			walk(item, fn)
		}
	case map[string]any:
		fn(node)
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(node[k], fn)
		}
	}
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asNumber accepts JSON numbers and numeric strings.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}
