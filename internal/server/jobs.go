package server

import (
	"context"
	"errors"

	"github.com/Sternrassler/batch-dispatcher/pkg/dispatch"
	"github.com/Sternrassler/batch-dispatcher/pkg/logging"
	"github.com/Sternrassler/batch-dispatcher/pkg/progress"
)

// errShuttingDown is returned when a job is submitted during shutdown.
var errShuttingDown = errors.New("server is shutting down")

// launch registers a runner for job. The returned context is cancelled by a
// DELETE request, by parent, or by shutdown. observe is called after each
// batch in addition to persisting the snapshot.
func (s *Server) launch(parent context.Context, job dispatch.Job, observe func(dispatch.ProgressSnapshot)) (*jobEntry, context.Context, error) {
	logger := logging.ForJob(job.ID)
	runner, err := dispatch.NewRunner(job, s.exec, dispatch.Options{
		Limits: s.cfg.Limits,
		Policy: s.cfg.Policy.Build(),
		OnProgress: func(snap dispatch.ProgressSnapshot) {
			_ = s.persist(snap)
			if observe != nil {
				observe(snap)
			}
		},
		Logger: &logger,
	})
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, nil, errShuttingDown
	}

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.baseCtx, cancel)

	entry := newJobEntry(runner, func() {
		stop()
		cancel()
	})
	s.jobs.add(job.ID, entry)
	s.wg.Add(1)
	s.mu.Unlock()

	_ = s.persist(runner.Snapshot())
	return entry, ctx, nil
}

// run executes a launched job and records its outcome. With a store, the
// finished job is handed over to it and dropped from memory.
func (s *Server) run(ctx context.Context, entry *jobEntry) dispatch.Result {
	defer s.wg.Done()
	defer entry.cancel()

	result := entry.runner.Run(ctx)
	persistErr := s.persist(result.Snapshot)
	entry.complete(result)

	if s.store != nil && persistErr == nil {
		s.jobs.remove(result.JobID)
	}
	return result
}

// lookup returns the latest snapshot of a job from memory or the store.
func (s *Server) lookup(ctx context.Context, id string) (dispatch.ProgressSnapshot, error) {
	if entry, ok := s.jobs.get(id); ok {
		return entry.runner.Snapshot(), nil
	}
	if s.store == nil {
		return dispatch.ProgressSnapshot{}, progress.ErrNotFound
	}
	return s.store.Load(ctx, id)
}
