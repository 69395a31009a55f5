package dispatch

import (
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a job run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateAborted, StateCancelled:
		return true
	default:
		return false
	}
}

// ProgressSnapshot is the cumulative job state exposed to observers.
// Published values are never mutated.
type ProgressSnapshot struct {
	JobID      string       `json:"job_id,omitempty"`
	State      State        `json:"state"`
	Completed  int          `json:"completed"`
	Total      int          `json:"total"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Percentage float64      `json:"percentage"`
	Batches    int          `json:"batches"`
	LastBatch  *BatchResult `json:"last_batch,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Percentage returns min(100, completed/total*100).
func Percentage(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return min(100, float64(completed)/float64(total)*100)
}

// snapshotPublisher holds the latest published snapshot.
// Writers replace the whole value; readers get a copy.
type snapshotPublisher struct {
	current atomic.Pointer[ProgressSnapshot]
}

func (p *snapshotPublisher) publish(s ProgressSnapshot) {
	s.Percentage = Percentage(s.Completed, s.Total)
	s.UpdatedAt = time.Now()
	if s.LastBatch != nil {
		last := *s.LastBatch
		s.LastBatch = &last
	}
	p.current.Store(&s)
}

func (p *snapshotPublisher) load() ProgressSnapshot {
	s := p.current.Load()
	if s == nil {
		return ProgressSnapshot{State: StatePending}
	}
	out := *s
	if out.LastBatch != nil {
		last := *out.LastBatch
		out.LastBatch = &last
	}
	return out
}
