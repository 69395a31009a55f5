// Package progress persists job progress snapshots in Redis so they can be
// read after the job has left the process, or from another instance.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/batch-dispatcher/pkg/dispatch"
	"github.com/Sternrassler/batch-dispatcher/pkg/logging"
)

var (
	// ErrNotFound indicates no snapshot is stored for the job
	ErrNotFound = errors.New("progress not found")

	// ErrInvalidSnapshot indicates the stored snapshot could not be decoded
	ErrInvalidSnapshot = errors.New("invalid progress snapshot")
)

// DefaultTTL is how long snapshots are kept after their last update.
const DefaultTTL = 24 * time.Hour

// Store saves and loads progress snapshots.
type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewStore creates a snapshot store. A ttl <= 0 uses DefaultTTL.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		redis:  redisClient,
		ttl:    ttl,
		logger: logging.NewLogger(logging.ComponentProgress),
	}
}

// TTL returns the expiry applied on every save.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Save stores snap under its job id, replacing any earlier snapshot.
func (s *Store) Save(ctx context.Context, snap dispatch.ProgressSnapshot) error {
	if snap.JobID == "" {
		return fmt.Errorf("%w: missing job id", ErrInvalidSnapshot)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.redis.Set(ctx, Key(snap.JobID), data, s.ttl).Err(); err != nil {
		s.logger.Debug().Err(err).Str("job_id", snap.JobID).Msg("Snapshot save failed")
		StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	StoreWrites.Inc()
	return nil
}

// Load returns the latest stored snapshot of a job.
// Returns ErrNotFound if nothing is stored or the entry expired.
func (s *Store) Load(ctx context.Context, jobID string) (dispatch.ProgressSnapshot, error) {
	data, err := s.redis.Get(ctx, Key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			StoreLookups.WithLabelValues("miss").Inc()
			return dispatch.ProgressSnapshot{}, ErrNotFound
		}
		StoreErrors.WithLabelValues("load").Inc()
		return dispatch.ProgressSnapshot{}, fmt.Errorf("redis get: %w", err)
	}

	snap, err := decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Stored snapshot is unreadable")
		StoreErrors.WithLabelValues("load").Inc()
		return dispatch.ProgressSnapshot{}, err
	}

	StoreLookups.WithLabelValues("hit").Inc()
	return snap, nil
}

// Delete removes the snapshot of a job.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	if err := s.redis.Del(ctx, Key(jobID)).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func decode(data []byte) (dispatch.ProgressSnapshot, error) {
	var snap dispatch.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return dispatch.ProgressSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if snap.JobID == "" || snap.State == "" {
		return dispatch.ProgressSnapshot{}, fmt.Errorf("%w: missing job id or state", ErrInvalidSnapshot)
	}
	return snap, nil
}

// Ping checks the connection to Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
