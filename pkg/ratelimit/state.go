// Package ratelimit tracks the health of the registry as seen by every
// worker process and gates fetches when the source starts failing.
// Failures are counted in a Redis window shared by all workers, so one
// worker hammering a degraded source slows down the others too.
package ratelimit

import (
	"time"
)

// Redis keys for shared source state. The failures key expires when the
// window resets.
const (
	RedisKeyFailures   = "trademark:source:failures"
	RedisKeyLastUpdate = "trademark:source:last_update"
)

// DefaultErrorBudget is the number of failed fetches tolerated per window.
const DefaultErrorBudget = 100

// DefaultWindow is the length of a failure window.
const DefaultWindow = 10 * time.Minute

// Thresholds on the remaining error budget.
const (
	// ErrorThresholdCritical blocks fetches until the window resets.
	ErrorThresholdCritical = 5

	// ErrorThresholdWarning applies throttling when the remaining budget
	// falls below this value.
	ErrorThresholdWarning = 20

	// ErrorThresholdHealthy indicates normal operation.
	ErrorThresholdHealthy = 50
)

// SourceState is the shared view of the registry's recent failures.
type SourceState struct {
	// ErrorsRemaining is the budget left in the current window.
	ErrorsRemaining int `json:"errors_remaining"`

	// ResetAt is when the current failure window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when a worker last reported an outcome.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when ErrorsRemaining >= ErrorThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *SourceState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if fetches should wait for the window reset.
func (s *SourceState) NeedsCriticalBlock() bool {
	return s.ErrorsRemaining < ErrorThresholdCritical
}

// NeedsThrottling returns true if fetches should be slowed down.
func (s *SourceState) NeedsThrottling() bool {
	return s.ErrorsRemaining < ErrorThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *SourceState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current ErrorsRemaining.
func (s *SourceState) UpdateHealth() {
	s.IsHealthy = s.ErrorsRemaining >= ErrorThresholdHealthy
}
