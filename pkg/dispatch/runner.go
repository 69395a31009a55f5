package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/batch-dispatcher/pkg/logging"
)

// Options configures a Runner.
type Options struct {
	// Limits are applied to the job before planning (zero value = DefaultLimits).
	Limits Limits

	// Policy decides when failures abort the job (nil = NeverAbort).
	Policy AbortPolicy

	// OnProgress is invoked exactly once per completed batch, from the
	// coordinating goroutine, after the snapshot has been published.
	OnProgress func(ProgressSnapshot)

	// Pace waits between batches. It must return early with an error when
	// ctx is done. Nil uses a timer-based wait.
	Pace func(ctx context.Context, d time.Duration) error

	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// Result is the outcome of a run.
type Result struct {
	JobID    string
	State    State
	Snapshot ProgressSnapshot
	// Batches is the number of batches that ran to completion.
	Batches int
	// Trigger is the batch that caused an abort.
	Trigger *BatchResult
	// Fatal is set when the run stopped on an unexpected error.
	Fatal   bool
	Err     error
	Elapsed time.Duration
}

// Partial reports whether the job stopped before all calls were attempted.
func (r Result) Partial() bool {
	return r.Snapshot.Completed < r.Snapshot.Total
}

// Runner drives one job through Pending -> Running -> Completed|Aborted|Cancelled.
type Runner struct {
	job      Job
	exec     *Executor
	opts     Options
	logger   zerolog.Logger
	started  atomic.Bool
	progress snapshotPublisher
}

// NewRunner validates and clamps job and prepares a run.
func NewRunner(job Job, exec *Executor, opts Options) (*Runner, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}

	job = opts.Limits.Apply(job)
	if err := job.Validate(); err != nil {
		return nil, err
	}

	if opts.Policy == nil {
		opts.Policy = NeverAbort()
	}
	if opts.Pace == nil {
		opts.Pace = sleepContext
	}

	logger := logging.NewLogger(logging.ComponentDispatcher)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if job.ID != "" {
		logger = logger.With().Str("job_id", job.ID).Logger()
	}

	r := &Runner{
		job:    job,
		exec:   exec,
		opts:   opts,
		logger: logger,
	}
	r.progress.publish(ProgressSnapshot{
		JobID: job.ID,
		State: StatePending,
		Total: job.TotalCount,
	})
	return r, nil
}

// Job returns the clamped job this runner executes.
func (r *Runner) Job() Job {
	return r.job
}

// Snapshot returns the progress as of the last completed batch.
// It is safe to call concurrently with Run.
func (r *Runner) Snapshot() ProgressSnapshot {
	return r.progress.load()
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	return r.progress.load().State
}

// Run executes the job until it completes, an abort condition trips, or ctx
// is cancelled. Cancellation never interrupts a batch that already started.
func (r *Runner) Run(ctx context.Context) Result {
	if !r.started.CompareAndSwap(false, true) {
		snap := r.Snapshot()
		return Result{JobID: r.job.ID, State: snap.State, Snapshot: snap, Err: ErrAlreadyStarted}
	}

	start := time.Now()
	jobsRunning.Inc()
	defer jobsRunning.Dec()

	snap := ProgressSnapshot{
		JobID: r.job.ID,
		State: StateRunning,
		Total: r.job.TotalCount,
	}
	r.progress.publish(snap)

	r.logger.Info().
		Str("target", r.job.Target.URL).
		Int("total", r.job.TotalCount).
		Int("batch_size", r.job.BatchSize).
		Int("batches", BatchCount(r.job.TotalCount, r.job.BatchSize)).
		Dur("interval", r.job.Interval).
		Msg("Starting job")

	for desc := range Plan(r.job.TotalCount, r.job.BatchSize) {
		if err := ctx.Err(); err != nil {
			return r.finish(snap, StateCancelled, start, nil, fmt.Errorf("%w: %v", ErrCancelled, err))
		}

		result := r.exec.Execute(ctx, desc, r.job)

		snap.Completed += result.Attempted
		snap.Succeeded += result.Succeeded
		snap.Failed += result.Failed
		snap.Batches++
		snap.LastBatch = &result
		r.progress.publish(snap)

		if r.opts.OnProgress != nil {
			r.opts.OnProgress(r.progress.load())
		}

		logEvent := r.logger.Info()
		if result.Failed > 0 {
			logEvent = r.logger.Warn().Str("first_error", result.FirstErrorMessage)
		}
		logEvent.
			Int("batch", desc.Index).
			Int("succeeded", result.Succeeded).
			Int("failed", result.Failed).
			Int("completed", snap.Completed).
			Int("total", snap.Total).
			Float64("progress_pct", Percentage(snap.Completed, snap.Total)).
			Msg("Batch complete")

		if result.Fatal != nil {
			return r.finish(snap, StateAborted, start, &result, fmt.Errorf("%w: %w", ErrAborted, result.Fatal))
		}

		if snap.Completed >= snap.Total {
			break
		}

		if err := r.opts.Policy.Observe(result); err != nil {
			return r.finish(snap, StateAborted, start, &result, fmt.Errorf("%w: %w", ErrAborted, err))
		}

		if err := r.pace(ctx); err != nil {
			return r.finish(snap, StateCancelled, start, nil, fmt.Errorf("%w: %v", ErrCancelled, err))
		}
	}

	return r.finish(snap, StateCompleted, start, nil, nil)
}

// pace waits for the job interval between two batches.
func (r *Runner) pace(ctx context.Context) error {
	if r.job.Interval <= 0 {
		return ctx.Err()
	}

	r.logger.Debug().Dur("interval", r.job.Interval).Msg("Pacing before next batch")

	start := time.Now()
	err := r.opts.Pace(ctx, r.job.Interval)
	pacingSeconds.Observe(time.Since(start).Seconds())
	return err
}

func (r *Runner) finish(snap ProgressSnapshot, state State, start time.Time, trigger *BatchResult, err error) Result {
	snap.State = state
	r.progress.publish(snap)
	jobsTotal.WithLabelValues(string(state)).Inc()

	result := Result{
		JobID:    r.job.ID,
		State:    state,
		Snapshot: r.progress.load(),
		Batches:  snap.Batches,
		Err:      err,
		Elapsed:  time.Since(start),
	}
	if trigger != nil {
		t := *trigger
		result.Trigger = &t
		result.Fatal = t.Fatal != nil
	}

	logEvent := r.logger.Info()
	switch state {
	case StateAborted:
		logEvent = r.logger.Error().Err(err).Bool("fatal", result.Fatal)
	case StateCancelled:
		logEvent = r.logger.Warn().Err(err)
	}
	logEvent.
		Str("state", string(state)).
		Int("completed", snap.Completed).
		Int("succeeded", snap.Succeeded).
		Int("failed", snap.Failed).
		Int("batches", snap.Batches).
		Dur("duration", result.Elapsed).
		Msg("Job finished")

	return result
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
