package orchestrator

import (
	"time"
)

// Policy is the declarative retry/timeout contract of a single step.
// Representing it as a value keeps the per-step differences out of the
// execution code.
type Policy struct {
	// Deadline of one attempt.
	Timeout time.Duration
	// Retries after the first attempt.
	MaxRetries int
	// Exponential backoff between attempts.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Retryable decides whether a failed attempt is worth repeating.
	Retryable func(error) bool
}

// Backoff returns the delay before retry number attempt (0-based):
// base doubled each time, capped.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BackoffBase << attempt
	if d > p.BackoffCap || d <= 0 {
		return p.BackoffCap
	}
	return d
}
