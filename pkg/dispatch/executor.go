package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/batch-dispatcher/pkg/logging"
)

// Sender performs a single remote call.
// Implementations must be safe for concurrent use. Retries, if any, belong to
// the Sender; the dispatcher never retries a failed call.
type Sender interface {
	Send(ctx context.Context, target Target, header string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, target Target, header string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, target Target, header string) error {
	return f(ctx, target, header)
}

// CallOutcome is the result of one dispatched call.
type CallOutcome struct {
	Succeeded bool
	Err       error
	// Fatal is set when the call did not fail normally (e.g. the sender panicked).
	Fatal bool

	// settled is the 1-based position in which the call finished within its batch.
	settled int64
}

// BatchResult aggregates the outcomes of one batch.
type BatchResult struct {
	Index     int           `json:"index"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`

	// FirstError is the error of the failed call that settled first.
	FirstError error `json:"-"`
	// FirstErrorMessage is FirstError rendered for JSON consumers.
	FirstErrorMessage string `json:"first_error,omitempty"`

	// Fatal holds the first fatal error to settle in the batch, if any.
	Fatal error `json:"-"`
}

// AllFailed reports whether every attempted call failed.
func (r BatchResult) AllFailed() bool {
	return r.Attempted > 0 && r.Succeeded == 0
}

// FailureRatio returns Failed / Attempted.
func (r BatchResult) FailureRatio() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(r.Failed) / float64(r.Attempted)
}

// ExecutorConfig holds batch executor configuration.
type ExecutorConfig struct {
	// CallTimeout bounds every individual call (0 = no dispatcher-side bound).
	CallTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CallTimeout: 30 * time.Second,
	}
}

// Executor runs one batch at a time.
type Executor struct {
	sender Sender
	config ExecutorConfig
	logger zerolog.Logger
}

// NewExecutor creates a new batch executor.
func NewExecutor(sender Sender, config ExecutorConfig) *Executor {
	if sender == nil {
		panic("sender cannot be nil")
	}
	if config.CallTimeout < 0 {
		config.CallTimeout = 0
	}
	return &Executor{
		sender: sender,
		config: config,
		logger: logging.NewLogger(logging.ComponentExecutor),
	}
}

// Execute dispatches desc.Size concurrent calls and waits for all of them to
// settle. Call failures are counted, never returned. Calls run on a context
// that ignores cancellation of ctx, so a cancelled job drains its in-flight
// batch instead of tearing calls down.
func (e *Executor) Execute(ctx context.Context, desc BatchDescriptor, job Job) BatchResult {
	start := time.Now()
	header := job.Header()
	callCtx := context.WithoutCancel(ctx)

	outcomes := make([]CallOutcome, desc.Size)

	var (
		wg      sync.WaitGroup
		settled atomic.Int64
	)
	for i := range outcomes {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			outcome := e.call(callCtx, job.Target, header)
			outcome.settled = settled.Add(1)
			outcomes[slot] = outcome
		}(i)
	}
	wg.Wait()

	result := aggregate(desc.Index, outcomes)
	result.Duration = time.Since(start)

	batchesTotal.Inc()
	batchDuration.Observe(result.Duration.Seconds())
	callsTotal.WithLabelValues("success").Add(float64(result.Succeeded))
	callsTotal.WithLabelValues("failure").Add(float64(result.Failed))

	e.logger.Debug().
		Str("job_id", job.ID).
		Int("batch", desc.Index).
		Int("size", desc.Size).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("Batch settled")

	return result
}

// call performs one send and converts panics into fatal outcomes.
func (e *Executor) call(ctx context.Context, target Target, header string) (outcome CallOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Interface("panic", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("Sender panicked")
			outcome = CallOutcome{
				Err:   fmt.Errorf("%w: sender panicked: %v", ErrFatal, r),
				Fatal: true,
			}
		}
	}()

	if e.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.CallTimeout)
		defer cancel()
	}

	if err := e.sender.Send(ctx, target, header); err != nil {
		return CallOutcome{Err: err}
	}
	return CallOutcome{Succeeded: true}
}

// aggregate counts outcomes; errors are picked in settle order, not slot order.
func aggregate(index int, outcomes []CallOutcome) BatchResult {
	result := BatchResult{Index: index, Attempted: len(outcomes)}
	var firstFailed, firstFatal int64
	for _, o := range outcomes {
		if o.Succeeded {
			result.Succeeded++
			continue
		}
		result.Failed++
		if firstFailed == 0 || o.settled < firstFailed {
			firstFailed = o.settled
			result.FirstError = o.Err
		}
		if o.Fatal && (firstFatal == 0 || o.settled < firstFatal) {
			firstFatal = o.settled
			result.Fatal = o.Err
		}
	}
	if result.FirstError != nil {
		result.FirstErrorMessage = result.FirstError.Error()
	}
	return result
}
