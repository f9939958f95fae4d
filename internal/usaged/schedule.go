package usaged

import (
	"time"

	"github.com/agusx1211/opencode-subagent/internal/registry"
)

// ShouldRefresh reports whether rec's telemetry is due at now. A running
// task is due once its usage is older than runningRefresh; a finished task
// is due until usage has been captured after it finished. A pending retry
// backoff suppresses both, and a task without a session is never due.
func ShouldRefresh(rec *registry.AgentRecord, now time.Time, runningRefresh time.Duration) bool {
	if rec == nil || rec.SessionID == "" {
		return false
	}
	if rec.Status != registry.StatusRunning && !rec.Status.Terminal() {
		return false
	}
	if rec.UsageRetryAt != nil && now.Before(*rec.UsageRetryAt) {
		return false
	}
	if rec.UsageUpdatedAt == nil {
		return true
	}
	if rec.Status == registry.StatusRunning {
		return now.Sub(*rec.UsageUpdatedAt) >= runningRefresh
	}
	return rec.FinishedAt != nil && rec.UsageUpdatedAt.Before(*rec.FinishedAt)
}

// RetryDelay is the backoff before the given failed attempt (1-based) is
// retried: base doubled per previous failure, capped at max.
func RetryDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
