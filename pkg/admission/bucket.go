package admission

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/metrics"
)

// BucketConfig holds configuration options for a TokenBucket.
type BucketConfig struct {
	// Name labels the bucket in metrics.
	Name string

	// Rate is the number of tokens added per second.
	Rate Limit

	// Burst is the maximum number of tokens that can be stored.
	Burst int

	// Clock provides the current time. If nil, SystemClock is used.
	Clock Clock

	// InitialTokens is the number of tokens to start with.
	// If negative, starts with full capacity.
	InitialTokens int

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

// TokenBucket admits items at a steady rate with bursts up to Burst.
// Requests larger than Burst are charged Burst tokens so that no job is
// starved forever.
type TokenBucket struct {
	mu         sync.Mutex
	name       string
	limit      Limit
	burst      int
	tokens     float64
	lastUpdate time.Time
	clock      Clock
	metrics    *metrics.Registry
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(rate Limit, burst int) (*TokenBucket, error) {
	return NewTokenBucketWithConfig(BucketConfig{
		Rate:          rate,
		Burst:         burst,
		InitialTokens: -1,
	})
}

// NewTokenBucketWithConfig creates a bucket from config.
func NewTokenBucketWithConfig(config BucketConfig) (*TokenBucket, error) {
	if config.Rate < 0 {
		return nil, errors.NewValidationError("admission", "rate", config.Rate, "rate cannot be negative").
			WithHint("use 0 for a fixed budget or a positive value")
	}
	if config.Burst <= 0 {
		return nil, errors.NewValidationError("admission", "burst", config.Burst, "burst must be positive").
			WithHint("burst determines how many items can be admitted at once")
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}
	if config.Name == "" {
		config.Name = "token_bucket"
	}

	initial := float64(config.InitialTokens)
	if config.InitialTokens < 0 || config.InitialTokens > config.Burst {
		initial = float64(config.Burst)
	}

	return &TokenBucket{
		name:       config.Name,
		limit:      config.Rate,
		burst:      config.Burst,
		tokens:     initial,
		lastUpdate: config.Clock.Now(),
		clock:      config.Clock,
		metrics:    metrics.Resolve(config.Metrics),
	}, nil
}

// Allow reports whether n items may be admitted now, taking the tokens if so.
func (tb *TokenBucket) Allow(n int) bool {
	_, ok := tb.reserve(tb.clock.Now(), n, 0)
	return ok
}

// Wait blocks until n items may be admitted.
func (tb *TokenBucket) Wait(ctx context.Context, n int) (err error) {
	start := time.Now()
	defer func() { instrument(tb.metrics, "token_bucket", tb.name, start, err) }()

	if n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := tb.clock.Now()
	delay, ok := tb.reserve(now, n, math.MaxInt64)
	if !ok {
		return errors.ErrRateLimited
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		tb.cancel(n)
		return ctx.Err()
	}
}

// SetLimit changes the refill rate.
func (tb *TokenBucket) SetLimit(limit Limit) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.advance(tb.clock.Now())
	tb.limit = limit
}

// Limit returns the refill rate.
func (tb *TokenBucket) Limit() Limit {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limit
}

// Burst returns the bucket capacity.
func (tb *TokenBucket) Burst() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.burst
}

// Tokens returns the number of tokens currently available.
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.advance(tb.clock.Now())
	return tb.tokens
}

// reserve takes n tokens, possibly going into debt, and returns how long
// the caller must wait for them. It fails if the wait would exceed maxWait.
func (tb *TokenBucket) reserve(now time.Time, n int, maxWait time.Duration) (time.Duration, bool) {
	if n <= 0 {
		return 0, true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	n = min(n, tb.burst)
	if tb.limit == Inf {
		return 0, true
	}

	tb.advance(now)
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return 0, true
	}
	if tb.limit == 0 {
		return 0, false
	}

	needed := float64(n) - tb.tokens
	wait := time.Duration(float64(time.Second) * needed / float64(tb.limit))
	if wait > maxWait {
		return 0, false
	}
	tb.tokens -= float64(n)
	return wait, true
}

func (tb *TokenBucket) cancel(n int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.advance(tb.clock.Now())
	tb.tokens = math.Min(tb.tokens+float64(min(n, tb.burst)), float64(tb.burst))
}

// advance adds the tokens earned since the last update.
func (tb *TokenBucket) advance(now time.Time) {
	if tb.limit == Inf {
		tb.tokens = float64(tb.burst)
		tb.lastUpdate = now
		return
	}
	elapsed := now.Sub(tb.lastUpdate)
	if elapsed <= 0 {
		return
	}
	tb.tokens = math.Min(tb.tokens+elapsed.Seconds()*float64(tb.limit), float64(tb.burst))
	tb.lastUpdate = now
}
