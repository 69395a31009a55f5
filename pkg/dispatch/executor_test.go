package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testJob(total, batchSize int) Job {
	return Job{
		ID:          "test-job",
		Target:      Target{URL: "http://example.invalid/share"},
		Credentials: []Credential{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}},
		TotalCount:  total,
		BatchSize:   batchSize,
	}
}

func TestExecutor_AllSucceed(t *testing.T) {
	var headers sync.Map
	var calls atomic.Int32
	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		calls.Add(1)
		headers.Store(header, true)
		return nil
	})

	exec := NewExecutor(sender, DefaultExecutorConfig())
	result := exec.Execute(context.Background(), BatchDescriptor{Index: 2, Size: 25}, testJob(100, 25))

	if calls.Load() != 25 {
		t.Errorf("calls = %d, want 25", calls.Load())
	}
	if result.Index != 2 {
		t.Errorf("Index = %d, want 2", result.Index)
	}
	if result.Attempted != 25 || result.Succeeded != 25 || result.Failed != 0 {
		t.Errorf("result = %+v, want 25 attempted / 25 succeeded", result)
	}
	if result.FirstError != nil {
		t.Errorf("FirstError = %v, want nil", result.FirstError)
	}
	if _, ok := headers.Load("a=1; b=2"); !ok {
		t.Error("sender did not receive the joined credential header")
	}
}

func TestExecutor_FailuresAreCounted(t *testing.T) {
	errBoom := errors.New("boom")
	var n atomic.Int32
	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		if n.Add(1)%2 == 0 {
			return errBoom
		}
		return nil
	})

	exec := NewExecutor(sender, DefaultExecutorConfig())
	result := exec.Execute(context.Background(), BatchDescriptor{Size: 10}, testJob(10, 10))

	if result.Attempted != 10 {
		t.Errorf("Attempted = %d, want 10", result.Attempted)
	}
	if result.Succeeded != 5 || result.Failed != 5 {
		t.Errorf("Succeeded/Failed = %d/%d, want 5/5", result.Succeeded, result.Failed)
	}
	if !errors.Is(result.FirstError, errBoom) {
		t.Errorf("FirstError = %v, want %v", result.FirstError, errBoom)
	}
	if result.FirstErrorMessage != "boom" {
		t.Errorf("FirstErrorMessage = %q, want %q", result.FirstErrorMessage, "boom")
	}
	if result.Fatal != nil {
		t.Errorf("Fatal = %v, want nil", result.Fatal)
	}
	if result.FailureRatio() != 0.5 {
		t.Errorf("FailureRatio() = %v, want 0.5", result.FailureRatio())
	}
}

func TestExecutor_ConcurrencyBoundedByBatch(t *testing.T) {
	const size = 8
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	var once sync.Once

	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		if cur == size {
			once.Do(func() { close(release) })
		}
		select {
		case <-release:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("batch calls did not overlap")
		}
	})

	exec := NewExecutor(sender, DefaultExecutorConfig())
	result := exec.Execute(context.Background(), BatchDescriptor{Size: size}, testJob(size, size))

	if result.Succeeded != size {
		t.Errorf("Succeeded = %d, want %d (first error: %v)", result.Succeeded, size, result.FirstError)
	}
	if peak.Load() != size {
		t.Errorf("peak in-flight = %d, want %d", peak.Load(), size)
	}
}

func TestExecutor_CallsIgnoreCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sawCancelled atomic.Bool
	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		if ctx.Err() != nil {
			sawCancelled.Store(true)
		}
		return nil
	})

	exec := NewExecutor(sender, DefaultExecutorConfig())
	result := exec.Execute(ctx, BatchDescriptor{Size: 3}, testJob(3, 3))

	if sawCancelled.Load() {
		t.Error("in-flight calls must not observe job cancellation")
	}
	if result.Succeeded != 3 {
		t.Errorf("Succeeded = %d, want 3", result.Succeeded)
	}
}

func TestExecutor_CallTimeout(t *testing.T) {
	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	exec := NewExecutor(sender, ExecutorConfig{CallTimeout: 20 * time.Millisecond})
	result := exec.Execute(context.Background(), BatchDescriptor{Size: 2}, testJob(2, 2))

	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2", result.Failed)
	}
	if !errors.Is(result.FirstError, context.DeadlineExceeded) {
		t.Errorf("FirstError = %v, want deadline exceeded", result.FirstError)
	}
}

func TestExecutor_PanicIsFatal(t *testing.T) {
	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		panic("transport exploded")
	})

	exec := NewExecutor(sender, DefaultExecutorConfig())
	result := exec.Execute(context.Background(), BatchDescriptor{Size: 2}, testJob(2, 2))

	if result.Failed != 2 {
		t.Errorf("Failed = %d, want 2", result.Failed)
	}
	if !errors.Is(result.Fatal, ErrFatal) {
		t.Errorf("Fatal = %v, want ErrFatal", result.Fatal)
	}
}

func TestNewExecutor_NilSenderPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewExecutor should panic with nil sender")
		}
	}()
	NewExecutor(nil, DefaultExecutorConfig())
}

func TestExecutor_FirstErrorFollowsSettleOrder(t *testing.T) {
	errSlow := errors.New("slow failure")
	errFast := errors.New("fast failure")
	release := make(chan struct{})
	var n atomic.Int32

	sender := SenderFunc(func(ctx context.Context, target Target, header string) error {
		if n.Add(1) == 1 {
			<-release
			time.Sleep(50 * time.Millisecond)
			return errSlow
		}
		close(release)
		return errFast
	})

	exec := NewExecutor(sender, DefaultExecutorConfig())
	result := exec.Execute(context.Background(), BatchDescriptor{Size: 2}, testJob(2, 2))

	if result.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", result.Failed)
	}
	if !errors.Is(result.FirstError, errFast) {
		t.Errorf("FirstError = %v, want %v", result.FirstError, errFast)
	}
	if result.FirstErrorMessage != "fast failure" {
		t.Errorf("FirstErrorMessage = %q, want %q", result.FirstErrorMessage, "fast failure")
	}
}
