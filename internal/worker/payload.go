// Package worker supervises one wrapped-tool run on behalf of a task. The
// start command records the task as scheduled and launches a detached
// worker; the worker reports running, resolves the session, waits for the
// tool and always reports done.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnvPayload carries the encoded Payload to a detached worker.
const EnvPayload = "OPENCODE_PSA_PAYLOAD"

// CommandName is the hidden subcommand a detached worker runs.
const CommandName = "_run-worker"

// Payload is everything a worker needs to run one task cycle.
type Payload struct {
	LaunchID    string    `json:"launchId"`
	Name        string    `json:"name"`
	Prompt      string    `json:"prompt"`
	Cwd         string    `json:"cwd"`
	Title       string    `json:"title"`
	Agent       string    `json:"agent,omitempty"`
	Model       string    `json:"model"`
	Variant     string    `json:"variant,omitempty"`
	SessionID   string    `json:"sessionId,omitempty"`
	Files       []string  `json:"files,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	Root        string    `json:"registryRoot"`
	ResumeCount int       `json:"resumeCount"`
}

// Encode renders p for the environment, assigning a launch id if missing.
func (p *Payload) Encode() (string, error) {
	if p.LaunchID == "" {
		p.LaunchID = uuid.NewString()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding worker payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses and validates an encoded payload.
func DecodePayload(raw string) (*Payload, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("missing worker payload")
	}
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("invalid worker payload: %w", err)
	}
	switch {
	case p.Name == "":
		return nil, errors.New("invalid worker payload: name is empty")
	case p.Prompt == "":
		return nil, errors.New("invalid worker payload: prompt is empty")
	case p.Title == "":
		return nil, errors.New("invalid worker payload: title is empty")
	case p.StartedAt.IsZero():
		return nil, errors.New("invalid worker payload: startedAt is empty")
	}
	return &p, nil
}
