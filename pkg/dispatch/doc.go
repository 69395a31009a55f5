// Package dispatch implements a bounded, paced batch dispatcher.
//
// A Job describes a remote call that must be repeated TotalCount times. The
// Runner plans the work into batches of at most BatchSize calls, fans each
// batch out concurrently through a Sender, waits for every call in the batch
// to settle, publishes a ProgressSnapshot and then pauses for the job's pacing
// interval before starting the next batch.
//
// Example usage:
//
//	exec := dispatch.NewExecutor(sender, dispatch.DefaultExecutorConfig())
//	runner, err := dispatch.NewRunner(job, exec, dispatch.Options{
//		Policy: dispatch.ConsecutiveFailedBatches(3),
//	})
//	if err != nil {
//		return err
//	}
//	result := runner.Run(ctx)
//
// The runner:
//   - Plans batches lazily (memory does not grow with TotalCount)
//   - Bounds concurrency per batch, never across batches
//   - Counts failed calls instead of failing the batch
//   - Aborts only when the configured AbortPolicy trips or a call panics
//   - Lets in-flight calls drain on cancellation, but starts no new batch
//
// Snapshot may be called from any goroutine at any time. It returns the
// state as of the last completed batch.
package dispatch
