package registry

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusUnknown   Status = "unknown"
)

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusUnknown
}

// Active reports whether a worker is expected to still report on s.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusRunning
}

// CanTransition reports whether an automatic transition from → to is legal.
// Terminal states are left only through a resume, which goes through
// Schedule rather than this check.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusScheduled:
		return to == StatusRunning || to == StatusDone || to == StatusUnknown
	case StatusRunning:
		return to == StatusDone || to == StatusUnknown
	default:
		return false
	}
}

// Usage is the token accounting snapshot of one session.
type Usage struct {
	MessageCount   int      `json:"messageCount"`
	DialogTokens   *int     `json:"dialogTokens"`
	ContextFullPct *float64 `json:"contextFullPct"`
}

// ChildAgent is a sub-task the wrapped tool spawned inside a task's session.
// It is recomputed from the parent's transcript on every telemetry pass.
type ChildAgent struct {
	SessionID  string `json:"sessionId"`
	Status     string `json:"status,omitempty"`
	Title      string `json:"title,omitempty"`
	Model      string `json:"model,omitempty"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
	Usage      *Usage `json:"usage"`
}

// AgentRecord is one named task.
type AgentRecord struct {
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	PID         *int       `json:"pid"`
	SessionID   string     `json:"sessionId,omitempty"`
	ExitCode    *int       `json:"exitCode"`
	StartedAt   time.Time  `json:"startedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	FinishedAt  *time.Time `json:"finishedAt"`
	Model       string     `json:"model,omitempty"`
	Variant     string     `json:"variant,omitempty"`
	ResumeCount int        `json:"resumeCount"`
	Prompt      string     `json:"prompt,omitempty"`
	Cwd         string     `json:"cwd,omitempty"`

	Usage          *Usage       `json:"usage,omitempty"`
	UsageUpdatedAt *time.Time   `json:"usageUpdatedAt,omitempty"`
	UsageRetryAt   *time.Time   `json:"usageRetryAt,omitempty"`
	UsageAttempt   int          `json:"usageAttempt,omitempty"`
	UsageError     string       `json:"usageError,omitempty"`
	Children       []ChildAgent `json:"children,omitempty"`

	// LaunchID names the worker that owns the current cycle; its debug log
	// lines carry the same id.
	LaunchID string `json:"launchId,omitempty"`
	Error    string `json:"error,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Pid returns the recorded pid, or 0 when none was recorded.
func (r *AgentRecord) Pid() int {
	if r == nil || r.PID == nil {
		return 0
	}
	return *r.PID
}

// Generation identifies one start/resume cycle of a record.
func (r *AgentRecord) Generation() time.Time {
	return r.StartedAt
}

// DaemonDescriptor identifies the elected usage daemon.
type DaemonDescriptor struct {
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"startedAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// Registry is the root persisted object.
type Registry struct {
	Version   int                     `json:"version"`
	Agents    map[string]*AgentRecord `json:"agents"`
	Daemon    *DaemonDescriptor       `json:"daemon,omitempty"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// Get returns the named record or nil.
func (r *Registry) Get(name string) *AgentRecord {
	if r == nil || r.Agents == nil {
		return nil
	}
	return r.Agents[name]
}

// List returns the records sorted by name, restricted to filter when it is
// non-empty.
func (r *Registry) List(filter string) []*AgentRecord {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Agents))
	for name := range r.Agents {
		if filter != "" && name != filter {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*AgentRecord, 0, len(names))
	for _, name := range names {
		if rec := r.Agents[name]; rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// HasActive reports whether any task is scheduled or running.
func (r *Registry) HasActive() bool {
	if r == nil {
		return false
	}
	for _, rec := range r.Agents {
		if rec != nil && rec.Status.Active() {
			return true
		}
	}
	return false
}
