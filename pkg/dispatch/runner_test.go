package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func okSender() Sender {
	return SenderFunc(func(ctx context.Context, target Target, header string) error { return nil })
}

func failSender() Sender {
	return SenderFunc(func(ctx context.Context, target Target, header string) error {
		return errors.New("remote refused")
	})
}

type paceRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *paceRecorder) pace(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}

func newTestRunner(t *testing.T, job Job, sender Sender, opts Options) *Runner {
	t.Helper()
	runner, err := NewRunner(job, NewExecutor(sender, DefaultExecutorConfig()), opts)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return runner
}

func TestRunner_Completes(t *testing.T) {
	var snapshots []ProgressSnapshot
	runner := newTestRunner(t, testJob(250, 100), okSender(), Options{
		OnProgress: func(s ProgressSnapshot) { snapshots = append(snapshots, s) },
	})

	if runner.State() != StatePending {
		t.Errorf("State() before Run = %s, want pending", runner.State())
	}

	result := runner.Run(context.Background())

	if result.State != StateCompleted {
		t.Fatalf("State = %s, want completed (err: %v)", result.State, result.Err)
	}
	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if result.Batches != 3 {
		t.Errorf("Batches = %d, want 3", result.Batches)
	}
	if result.Snapshot.Completed != 250 || result.Snapshot.Succeeded != 250 {
		t.Errorf("Snapshot = %+v, want 250 completed and succeeded", result.Snapshot)
	}
	if result.Snapshot.Percentage != 100 {
		t.Errorf("Percentage = %v, want 100", result.Snapshot.Percentage)
	}
	if result.Partial() {
		t.Error("Partial() = true, want false")
	}

	if len(snapshots) != 3 {
		t.Fatalf("progress callbacks = %d, want 3", len(snapshots))
	}
	expected := []int{100, 200, 250}
	for i, s := range snapshots {
		if s.Completed != expected[i] {
			t.Errorf("snapshot %d Completed = %d, want %d", i, s.Completed, expected[i])
		}
		if s.State != StateRunning {
			t.Errorf("snapshot %d State = %s, want running", i, s.State)
		}
		if s.LastBatch == nil || s.LastBatch.Index != i {
			t.Errorf("snapshot %d LastBatch = %+v", i, s.LastBatch)
		}
	}
	if runner.State() != StateCompleted {
		t.Errorf("State() after Run = %s, want completed", runner.State())
	}
}

func TestRunner_ProgressMonotonic(t *testing.T) {
	job := testJob(97, 10)
	last := 0
	runner := newTestRunner(t, job, okSender(), Options{
		OnProgress: func(s ProgressSnapshot) {
			if s.Completed < last {
				t.Errorf("Completed went backwards: %d -> %d", last, s.Completed)
			}
			if s.Completed > job.TotalCount {
				t.Errorf("Completed = %d exceeds total %d", s.Completed, job.TotalCount)
			}
			if s.Percentage > 100 {
				t.Errorf("Percentage = %v exceeds 100", s.Percentage)
			}
			last = s.Completed
		},
	})

	// Concurrent readers must only ever see whole snapshots.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			s := runner.Snapshot()
			if s.Completed != s.Succeeded+s.Failed {
				t.Errorf("torn snapshot: %+v", s)
				return
			}
		}
	}()

	result := runner.Run(context.Background())
	close(done)
	wg.Wait()

	if result.Snapshot.Completed != 97 {
		t.Errorf("Completed = %d, want 97", result.Snapshot.Completed)
	}
}

func TestRunner_AllFailuresStillComplete(t *testing.T) {
	var results []BatchResult
	runner := newTestRunner(t, testJob(30, 10), failSender(), Options{
		OnProgress: func(s ProgressSnapshot) { results = append(results, *s.LastBatch) },
	})

	result := runner.Run(context.Background())

	if result.State != StateCompleted {
		t.Fatalf("State = %s, want completed", result.State)
	}
	if result.Snapshot.Completed != 30 || result.Snapshot.Failed != 30 {
		t.Errorf("Snapshot = %+v, want 30 completed / 30 failed", result.Snapshot)
	}
	for _, r := range results {
		if r.Succeeded != 0 {
			t.Errorf("batch %d Succeeded = %d, want 0", r.Index, r.Succeeded)
		}
	}
}

func TestRunner_AbortPolicyTrips(t *testing.T) {
	runner := newTestRunner(t, testJob(500, 100), failSender(), Options{
		Policy: ConsecutiveFailedBatches(2),
	})

	result := runner.Run(context.Background())

	if result.State != StateAborted {
		t.Fatalf("State = %s, want aborted", result.State)
	}
	if !errors.Is(result.Err, ErrAborted) {
		t.Errorf("Err = %v, want ErrAborted", result.Err)
	}
	if result.Fatal {
		t.Error("Fatal = true, want false for policy abort")
	}
	if result.Snapshot.Completed != 200 {
		t.Errorf("Completed = %d, want 200", result.Snapshot.Completed)
	}
	if result.Trigger == nil || result.Trigger.Index != 1 {
		t.Errorf("Trigger = %+v, want batch 1", result.Trigger)
	}
	if !result.Partial() {
		t.Error("Partial() = false, want true")
	}
}

func TestRunner_FailFastAlternative(t *testing.T) {
	var n atomic.Int32
	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		if n.Add(1) == 3 {
			return errors.New("single failure")
		}
		return nil
	})
	runner := newTestRunner(t, testJob(20, 5), sender, Options{Policy: FailFast()})

	result := runner.Run(context.Background())

	if result.State != StateAborted {
		t.Fatalf("State = %s, want aborted", result.State)
	}
	if result.Snapshot.Completed != 5 {
		t.Errorf("Completed = %d, want 5", result.Snapshot.Completed)
	}
}

func TestRunner_FatalAborts(t *testing.T) {
	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		panic("out of file descriptors")
	})
	runner := newTestRunner(t, testJob(30, 10), sender, Options{})

	result := runner.Run(context.Background())

	if result.State != StateAborted {
		t.Fatalf("State = %s, want aborted", result.State)
	}
	if !result.Fatal {
		t.Error("Fatal = false, want true")
	}
	if !errors.Is(result.Err, ErrFatal) || !errors.Is(result.Err, ErrAborted) {
		t.Errorf("Err = %v, want ErrAborted wrapping ErrFatal", result.Err)
	}
	if result.Snapshot.Completed != 10 {
		t.Errorf("Completed = %d, want 10", result.Snapshot.Completed)
	}
}

func TestRunner_PacingBetweenBatchesOnly(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		batch    int
		expected int
	}{
		{name: "three batches", total: 250, batch: 100, expected: 2},
		{name: "single batch", total: 50, batch: 100, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &paceRecorder{}
			job := testJob(tt.total, tt.batch)
			job.Interval = 2 * time.Second

			runner := newTestRunner(t, job, okSender(), Options{Pace: rec.pace})
			result := runner.Run(context.Background())

			if result.State != StateCompleted {
				t.Fatalf("State = %s, want completed", result.State)
			}
			if len(rec.delays) != tt.expected {
				t.Fatalf("pacing delays = %d, want %d", len(rec.delays), tt.expected)
			}
			for i, d := range rec.delays {
				if d < 2*time.Second {
					t.Errorf("delay %d = %v, want >= 2s", i, d)
				}
			}
		})
	}
}

func TestRunner_PacingRealTime(t *testing.T) {
	job := testJob(3, 1)
	job.Interval = 40 * time.Millisecond

	runner := newTestRunner(t, job, okSender(), Options{})
	start := time.Now()
	result := runner.Run(context.Background())
	elapsed := time.Since(start)

	if result.State != StateCompleted {
		t.Fatalf("State = %s, want completed", result.State)
	}
	if elapsed < 80*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 80ms for two pacing delays", elapsed)
	}
}

func TestRunner_CancelDuringBatchDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	var sawCancelled atomic.Bool
	sender := SenderFunc(func(callCtx context.Context, target Target, header string) error {
		calls.Add(1)
		cancel()
		time.Sleep(5 * time.Millisecond)
		if callCtx.Err() != nil {
			sawCancelled.Store(true)
		}
		return nil
	})

	runner := newTestRunner(t, testJob(40, 10), sender, Options{})
	result := runner.Run(ctx)

	if result.State != StateCancelled {
		t.Fatalf("State = %s, want cancelled", result.State)
	}
	if !errors.Is(result.Err, ErrCancelled) {
		t.Errorf("Err = %v, want ErrCancelled", result.Err)
	}
	if calls.Load() != 10 {
		t.Errorf("calls = %d, want 10 (no new batch after cancellation)", calls.Load())
	}
	if result.Snapshot.Completed != 10 {
		t.Errorf("Completed = %d, want 10", result.Snapshot.Completed)
	}
	if sawCancelled.Load() {
		t.Error("in-flight calls were torn down by cancellation")
	}
}

func TestRunner_CancelInterruptsPacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := testJob(30, 10)
	job.Interval = time.Hour

	runner := newTestRunner(t, job, okSender(), Options{
		OnProgress: func(ProgressSnapshot) { cancel() },
	})

	done := make(chan Result, 1)
	go func() { done <- runner.Run(ctx) }()

	select {
	case result := <-done:
		if result.State != StateCancelled {
			t.Errorf("State = %s, want cancelled", result.State)
		}
		if result.Snapshot.Completed != 10 {
			t.Errorf("Completed = %d, want 10", result.Snapshot.Completed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pacing delay was not interrupted by cancellation")
	}
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		calls.Add(1)
		return nil
	})

	result := newTestRunner(t, testJob(10, 5), sender, Options{}).Run(ctx)

	if result.State != StateCancelled {
		t.Errorf("State = %s, want cancelled", result.State)
	}
	if calls.Load() != 0 || result.Snapshot.Completed != 0 {
		t.Errorf("calls = %d completed = %d, want 0/0", calls.Load(), result.Snapshot.Completed)
	}
}

func TestRunner_RunTwice(t *testing.T) {
	runner := newTestRunner(t, testJob(1, 1), okSender(), Options{})
	runner.Run(context.Background())

	result := runner.Run(context.Background())
	if !errors.Is(result.Err, ErrAlreadyStarted) {
		t.Errorf("Err = %v, want ErrAlreadyStarted", result.Err)
	}
	if result.State != StateCompleted {
		t.Errorf("State = %s, want completed", result.State)
	}
}

func TestNewRunner_Validation(t *testing.T) {
	exec := NewExecutor(okSender(), DefaultExecutorConfig())

	if _, err := NewRunner(testJob(0, 10), exec, Options{}); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("zero total: err = %v, want ErrInvalidJob", err)
	}
	if _, err := NewRunner(testJob(10, 10), nil, Options{}); err == nil {
		t.Error("nil executor: expected error")
	}

	runner, err := NewRunner(testJob(5_000_000, 0), exec, Options{Limits: Limits{MaxTotalCount: 1000}})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	if runner.Job().TotalCount != 1000 {
		t.Errorf("TotalCount = %d, want 1000", runner.Job().TotalCount)
	}
	if runner.Job().BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", runner.Job().BatchSize, DefaultBatchSize)
	}
	if runner.Snapshot().Total != 1000 {
		t.Errorf("Snapshot().Total = %d, want 1000", runner.Snapshot().Total)
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		completed, total int
		expected         float64
	}{
		{0, 100, 0},
		{50, 100, 50},
		{100, 100, 100},
		{150, 100, 100},
		{1, 0, 0},
	}
	for _, tt := range tests {
		if got := Percentage(tt.completed, tt.total); got != tt.expected {
			t.Errorf("Percentage(%d, %d) = %v, want %v", tt.completed, tt.total, got, tt.expected)
		}
	}
}
