// Package ratelimit tracks the rate budget advertised by remote targets and
// gates outbound calls. It reads the X-RateLimit-Remaining and
// X-RateLimit-Reset response headers and shares the resulting state per
// target host through Redis, so every dispatcher instance backs off together.
package ratelimit

import (
	"time"
)

// Response headers carrying the remote budget.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// redisKeyPrefix namespaces all budget keys.
const redisKeyPrefix = "dispatch:ratelimit:"

// Thresholds for budget decisions.
const (
	// ThresholdCritical blocks all calls when the remaining budget falls below this value.
	ThresholdCritical = 5

	// ThresholdWarning throttles calls when the remaining budget falls below this value.
	ThresholdWarning = 20

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 50
)

// Keys returns the Redis keys holding the budget of host.
func Keys(host string) (remaining, reset, lastUpdate string) {
	base := redisKeyPrefix + host
	return base + ":remaining", base + ":reset", base + ":last_update"
}

// BudgetState represents the remote rate budget of one host.
type BudgetState struct {
	// Host is the target host the budget belongs to.
	Host string `json:"host"`

	// Remaining is the number of calls the remote still accepts in this window.
	Remaining int `json:"remaining"`

	// ResetAt is when the remote window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from response headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// NeedsCriticalBlock returns true if calls should be blocked.
// A window that has already reset never blocks.
func (s *BudgetState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if calls should be slowed down.
func (s *BudgetState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *BudgetState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *BudgetState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
