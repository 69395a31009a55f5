package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for remote budget tracking.
var (
	// Hosts are user-supplied and unbounded; they only appear in logs and Redis keys.
	budgetRemaining = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_remote_budget_remaining",
		Help:    "Remaining calls reported by remote rate-limit headers",
		Buckets: []float64{ThresholdCritical, ThresholdWarning, ThresholdHealthy, 100, 500, 1000},
	})

	budgetBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_remote_budget_blocks_total",
		Help: "Total number of calls blocked due to a critical remote budget",
	})

	budgetThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_remote_budget_throttles_total",
		Help: "Total number of calls throttled due to a low remote budget",
	})
)

// ThrottleDelay is how long a call waits when the budget is in the warning range.
var ThrottleDelay = 1 * time.Second

// stateTTL keeps abandoned host budgets from accumulating in Redis.
const stateTTL = 24 * time.Hour

// Tracker monitors remote budgets and gates calls.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new budget tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves the budget of host from Redis.
// Returns a healthy default when nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context, host string) (*BudgetState, error) {
	keyRemaining, keyReset, keyLastUpdate := Keys(host)

	values, err := t.redis.MGet(ctx, keyRemaining, keyReset, keyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get budget state: %w", err)
	}

	if values[0] == nil {
		t.logger.Debug().Str("host", host).Msg("No budget state in Redis, assuming healthy")
		return &BudgetState{
			Host:       host,
			Remaining:  100,
			ResetAt:    time.Now().Add(60 * time.Second),
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}

	remaining, err := strconv.Atoi(fmt.Sprint(values[0]))
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}

	var resetUnix int64
	if values[1] != nil {
		resetUnix, err = strconv.ParseInt(fmt.Sprint(values[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse reset timestamp: %w", err)
		}
	}

	var lastUpdate time.Time
	if values[2] != nil {
		if err := json.Unmarshal([]byte(fmt.Sprint(values[2])), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &BudgetState{
		Host:       host,
		Remaining:  remaining,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses the budget headers of a response from host and
// stores the result in Redis. Responses without budget headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, host string, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := time.Now()
	state := &BudgetState{
		Host:       host,
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	if t.redis == nil {
		return errors.New("redis client is not configured")
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	keyRemaining, keyReset, keyLastUpdate := Keys(host)
	pipe := t.redis.Pipeline()
	pipe.Set(ctx, keyRemaining, remain, stateTTL)
	pipe.Set(ctx, keyReset, state.ResetAt.Unix(), stateTTL)
	pipe.Set(ctx, keyLastUpdate, lastUpdateJSON, stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store budget state in redis: %w", err)
	}

	budgetRemaining.Observe(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Str("host", host).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Remote budget CRITICAL - calls will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Str("host", host).
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Remote budget WARNING - calls will be throttled")
	default:
		t.logger.Debug().
			Str("host", host).
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Remote budget updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a call to host may proceed.
// It returns false when the budget is critical and waits ThrottleDelay
// (or until ctx is done) when the budget is low.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, host string) (bool, error) {
	state, err := t.GetState(ctx, host)
	if err != nil {
		return false, fmt.Errorf("get budget state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Warn().
			Str("host", host).
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Remote budget critical - blocking call")

		budgetBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Debug().
			Str("host", host).
			Int("remaining", state.Remaining).
			Msg("Remote budget low - throttling call")

		budgetThrottlesTotal.Inc()

		timer := time.NewTimer(ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
