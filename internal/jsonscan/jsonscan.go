// Package jsonscan pulls the first balanced JSON object or array out of a
// noisy text stream, such as CLI output that prints log lines before its
// JSON payload.
package jsonscan

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned by Decode when text holds no balanced JSON value.
var ErrNoJSON = errors.New("no complete JSON value found")

// Extract returns the exact substring spanning the first balanced object or
// array in text, starting at the first '{' or '['. Strings delimited by
// either quote character are skipped, honoring backslash escapes. It
// returns "" when the first value never balances or closes with the wrong
// bracket.
func Extract(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}

	var stack []byte
	var quote byte
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == quote:
				quote = 0
			}
			continue
		}

		switch ch {
		case '"', '\'':
			quote = ch
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 {
				return ""
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if (ch == '}' && open != '{') || (ch == ']' && open != '[') {
				return ""
			}
			if len(stack) == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// Decode extracts the first JSON value from text and unmarshals it into v.
func Decode(text string, v any) error {
	raw := Extract(text)
	if raw == "" {
		return ErrNoJSON
	}
	return json.Unmarshal([]byte(raw), v)
}
