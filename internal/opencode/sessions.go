package opencode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/jsonscan"
)

type sessionEntry struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Title     string          `json:"title"`
	Updated   json.RawMessage `json:"updated"`
	Created   json.RawMessage `json:"created"`
}

// ParseSessionList picks the id of the session titled exactly title from a
// `session list --format json` listing, either a bare array or an object
// with a sessions array. Among matches the greatest updated timestamp wins,
// falling back to created, falling back to the first one listed. Entries
// with a timestamp beat entries without one. It returns "" when nothing
// matches.
func ParseSessionList(data []byte, title string) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}

	var items []json.RawMessage
	if data[0] == '{' {
		var wrapped struct {
			Sessions []json.RawMessage `json:"sessions"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return ""
		}
		items = wrapped.Sessions
	} else if err := json.Unmarshal(data, &items); err != nil {
		return ""
	}

	bestID := ""
	var bestTS *float64
	for _, raw := range items {
		var s sessionEntry
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s.Title != title {
			continue
		}
		id := s.ID
		if id == "" {
			id = s.SessionID
		}
		if id == "" {
			continue
		}
		ts := timestamp(s.Updated)
		if ts == nil {
			ts = timestamp(s.Created)
		}

		switch {
		case bestID == "":
			bestID, bestTS = id, ts
		case bestTS == nil && ts != nil:
			bestID, bestTS = id, ts
		case bestTS != nil && ts != nil && *ts > *bestTS:
			bestID, bestTS = id, ts
		}
	}
	return bestID
}

func timestamp(raw json.RawMessage) *float64 {
	var v float64
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return nil
	}
	return &v
}

// ListSessions runs `opencode session list --format json` in dir and returns
// the JSON payload with any leading log noise stripped.
func (c *Client) ListSessions(ctx context.Context, dir string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ListTimeout)
	defer cancel()

	out, err := c.command(ctx, dir, "session", "list", "--format", "json").Output()
	if err != nil {
		return nil, fmt.Errorf("opencode session list: %w", err)
	}
	raw := jsonscan.Extract(string(out))
	if raw == "" {
		return nil, fmt.Errorf("opencode session list: %w", jsonscan.ErrNoJSON)
	}
	return []byte(raw), nil
}

// DiscoverSessionID polls the session listing up to attempts times until a
// session titled title appears. It returns "" when attempts are exhausted
// or ctx is done.
func (c *Client) DiscoverSessionID(ctx context.Context, title, dir string, attempts int) string {
	for i := 0; i < attempts; i++ {
		data, err := c.ListSessions(ctx, dir)
		if err == nil {
			if id := ParseSessionList(data, title); id != "" {
				debug.LogKV("opencode", "session discovered", "title", title, "session_id", id, "attempt", i+1)
				return id
			}
		} else {
			debug.LogKV("opencode", "session list failed", "attempt", i+1, "error", err)
		}
		if err := sleepCtx(ctx, c.DiscoverDelay); err != nil {
			return ""
		}
	}
	debug.LogKV("opencode", "session discovery exhausted", "title", title, "attempts", attempts)
	return ""
}
