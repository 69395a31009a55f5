package dispatch

import (
	"fmt"
)

// AbortPolicy decides whether accumulated call failures should stop a job.
// Observe is called once per completed batch, in batch order. A non-nil
// return value aborts the job and is reported as the abort reason.
// Policies may keep state and must not be shared between runs.
type AbortPolicy interface {
	Observe(result BatchResult) error
}

// PolicyFunc adapts a function to the AbortPolicy interface.
type PolicyFunc func(result BatchResult) error

// Observe calls f.
func (f PolicyFunc) Observe(result BatchResult) error {
	return f(result)
}

// NeverAbort tolerates any number of failures.
func NeverAbort() AbortPolicy {
	return PolicyFunc(func(BatchResult) error { return nil })
}

// FailFast aborts on the first failed call.
func FailFast() AbortPolicy {
	return PolicyFunc(func(r BatchResult) error {
		if r.Failed > 0 {
			return fmt.Errorf("batch %d: %d call(s) failed: %v", r.Index, r.Failed, r.FirstError)
		}
		return nil
	})
}

// FailureRatio aborts when a single batch's failure ratio exceeds threshold.
func FailureRatio(threshold float64) AbortPolicy {
	return PolicyFunc(func(r BatchResult) error {
		if ratio := r.FailureRatio(); ratio > threshold {
			return fmt.Errorf("batch %d failure ratio %.2f exceeds %.2f", r.Index, ratio, threshold)
		}
		return nil
	})
}

type consecutivePolicy struct {
	limit  int
	streak int
}

// ConsecutiveFailedBatches aborts after limit batches in a row in which every
// call failed.
func ConsecutiveFailedBatches(limit int) AbortPolicy {
	return &consecutivePolicy{limit: limit}
}

func (p *consecutivePolicy) Observe(r BatchResult) error {
	if !r.AllFailed() {
		p.streak = 0
		return nil
	}
	p.streak++
	if p.limit > 0 && p.streak >= p.limit {
		return fmt.Errorf("%d consecutive batches failed completely (last error: %v)", p.streak, r.FirstError)
	}
	return nil
}

// AnyOf aborts as soon as one of the given policies trips.
// Every policy observes every batch so stateful policies stay consistent.
func AnyOf(policies ...AbortPolicy) AbortPolicy {
	return PolicyFunc(func(r BatchResult) error {
		var first error
		for _, p := range policies {
			if err := p.Observe(r); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

// PolicyConfig describes an abort policy in configuration terms.
// Zero values disable the corresponding rule.
type PolicyConfig struct {
	ConsecutiveFailedBatches int
	FailureRatio             float64
	FailFast                 bool
}

// Build returns a fresh policy for one run.
func (c PolicyConfig) Build() AbortPolicy {
	var policies []AbortPolicy
	if c.FailFast {
		policies = append(policies, FailFast())
	}
	if c.ConsecutiveFailedBatches > 0 {
		policies = append(policies, ConsecutiveFailedBatches(c.ConsecutiveFailedBatches))
	}
	if c.FailureRatio > 0 {
		policies = append(policies, FailureRatio(c.FailureRatio))
	}

	switch len(policies) {
	case 0:
		return NeverAbort()
	case 1:
		return policies[0]
	default:
		return AnyOf(policies...)
	}
}
