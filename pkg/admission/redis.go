package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/metrics"
)

// RedisConfig holds configuration for a RedisTokenBucket.
type RedisConfig struct {
	// Client coordinates all processes sharing the bucket.
	Client redis.UniversalClient

	// Key is the Redis key prefix of the bucket.
	Key string

	// Rate is the number of tokens added per second.
	Rate float64

	// Burst is the maximum number of tokens that can be stored.
	Burst int

	// InstanceID identifies this process in the instance set.
	// Defaults to a random UUID.
	InstanceID string

	// Fallback admits locally while Redis is unreachable. If nil, Redis
	// errors are returned to the caller.
	Fallback Throttle

	// Timeout bounds every Redis round trip. Defaults to 500ms.
	Timeout time.Duration

	// KeyTTL is how long idle keys live. Defaults to one hour.
	KeyTTL time.Duration

	// Logger receives Redis failures. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

// RedisStats is a snapshot of a shared bucket.
type RedisStats struct {
	Rate            float64
	Burst           int
	Tokens          float64
	LastRefill      time.Time
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	ActiveInstances []string
}

// RedisTokenBucket is a token bucket whose state lives in Redis so that
// several controller processes share one admission budget.
type RedisTokenBucket struct {
	config  RedisConfig
	keys    redisKeys
	logger  *zap.Logger
	metrics *metrics.Registry
	consume *redis.Script
}

type redisKeys struct {
	tokens, last, config, stats, instances string
}

func newRedisKeys(prefix string) redisKeys {
	return redisKeys{
		tokens:    prefix + ":tokens",
		last:      prefix + ":last_refill",
		config:    prefix + ":config",
		stats:     prefix + ":stats",
		instances: prefix + ":instances",
	}
}

func (k redisKeys) all() []string {
	return []string{k.tokens, k.last, k.config, k.stats, k.instances}
}

// NewRedisTokenBucket validates config and seeds the bucket in Redis.
// When Redis cannot be reached and a Fallback is configured, the bucket
// is returned anyway and admits through the fallback until Redis answers.
func NewRedisTokenBucket(ctx context.Context, config RedisConfig) (*RedisTokenBucket, error) {
	if config.Client == nil {
		return nil, errors.NewValidationError("admission", "client", nil, "redis client is required")
	}
	if config.Key == "" {
		return nil, errors.NewValidationError("admission", "key", config.Key, "key is required")
	}
	if config.Rate <= 0 {
		return nil, errors.NewValidationError("admission", "rate", config.Rate, "rate must be positive")
	}
	if config.Burst <= 0 {
		return nil, errors.NewValidationError("admission", "burst", config.Burst, "burst must be positive")
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Timeout == 0 {
		config.Timeout = 500 * time.Millisecond
	}
	if config.KeyTTL == 0 {
		config.KeyTTL = time.Hour
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rb := &RedisTokenBucket{
		config:  config,
		keys:    newRedisKeys(config.Key),
		logger:  logger.With(zap.String("bucket", config.Key)),
		metrics: metrics.Resolve(config.Metrics),
		consume: redis.NewScript(luaTryConsume),
	}

	if err := rb.initialize(ctx); err != nil {
		if config.Fallback == nil {
			return nil, err
		}
		rb.logger.Warn("redis unavailable, admitting through fallback", zap.Error(err))
	}
	return rb, nil
}

func (rb *RedisTokenBucket) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rb.config.Timeout)
	defer cancel()

	pipe := rb.config.Client.Pipeline()
	pipe.SetNX(ctx, rb.keys.tokens, float64(rb.config.Burst), rb.config.KeyTTL)
	pipe.SetNX(ctx, rb.keys.last, timeToFloat(time.Now()), rb.config.KeyTTL)
	pipe.HSet(ctx, rb.keys.config, map[string]interface{}{
		"rate":  rb.config.Rate,
		"burst": rb.config.Burst,
	})
	pipe.Expire(ctx, rb.keys.config, rb.config.KeyTTL)
	pipe.SAdd(ctx, rb.keys.instances, rb.config.InstanceID)
	pipe.Expire(ctx, rb.keys.instances, rb.config.KeyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return &RedisError{Operation: "initialize", Err: err}
	}
	return nil
}

// Wait blocks until n items may be admitted. Requests larger than Burst
// are charged Burst tokens.
func (rb *RedisTokenBucket) Wait(ctx context.Context, n int) (err error) {
	start := time.Now()
	defer func() { instrument(rb.metrics, "redis_token_bucket", rb.config.Key, start, err) }()

	if n <= 0 {
		return nil
	}
	n = min(n, rb.config.Burst)

	for {
		ok, delay, err := rb.Reserve(ctx, n)
		if err != nil {
			if rb.config.Fallback != nil {
				rb.logger.Debug("redis reserve failed, using fallback", zap.Error(err))
				return rb.config.Fallback.Wait(ctx, n)
			}
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Reserve tries to take n tokens. When it cannot, it reports how long
// until enough tokens will have accumulated.
func (rb *RedisTokenBucket) Reserve(ctx context.Context, n int) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, rb.config.Timeout)
	defer cancel()

	res, err := rb.consume.Run(ctx, rb.config.Client,
		[]string{rb.keys.tokens, rb.keys.last, rb.keys.stats},
		n, timeToFloat(time.Now()), rb.config.Rate, rb.config.Burst,
	).Slice()
	if err != nil {
		return false, 0, &RedisError{Operation: "reserve", Err: err}
	}
	if len(res) != 3 {
		return false, 0, &RedisError{Operation: "reserve", Err: fmt.Errorf("unexpected script result %v", res)}
	}

	allowed, _ := res[0].(int64)
	delayStr, _ := res[2].(string)
	delay, _ := strconv.ParseFloat(delayStr, 64)

	return allowed == 1, time.Duration(delay * float64(time.Second)), nil
}

// Stats reads the shared bucket state.
func (rb *RedisTokenBucket) Stats(ctx context.Context) (*RedisStats, error) {
	ctx, cancel := context.WithTimeout(ctx, rb.config.Timeout)
	defer cancel()

	pipe := rb.config.Client.Pipeline()
	tokensCmd := pipe.Get(ctx, rb.keys.tokens)
	lastCmd := pipe.Get(ctx, rb.keys.last)
	configCmd := pipe.HGetAll(ctx, rb.keys.config)
	instancesCmd := pipe.SMembers(ctx, rb.keys.instances)
	statsCmd := pipe.HGetAll(ctx, rb.keys.stats)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, &RedisError{Operation: "stats", Err: err}
	}

	tokens, _ := strconv.ParseFloat(tokensCmd.Val(), 64)
	last, _ := strconv.ParseFloat(lastCmd.Val(), 64)

	cfg := configCmd.Val()
	rate, _ := strconv.ParseFloat(cfg["rate"], 64)
	burst, _ := strconv.Atoi(cfg["burst"])

	st := statsCmd.Val()
	total, _ := strconv.ParseInt(st["total_requests"], 10, 64)
	allowed, _ := strconv.ParseInt(st["allowed_requests"], 10, 64)
	denied, _ := strconv.ParseInt(st["denied_requests"], 10, 64)

	return &RedisStats{
		Rate:            rate,
		Burst:           burst,
		Tokens:          tokens,
		LastRefill:      floatToTime(last),
		TotalRequests:   total,
		AllowedRequests: allowed,
		DeniedRequests:  denied,
		ActiveInstances: instancesCmd.Val(),
	}, nil
}

// Reset clears the shared state and seeds a full bucket.
func (rb *RedisTokenBucket) Reset(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, rb.config.Timeout)
	defer cancel()

	if err := rb.config.Client.Del(cctx, rb.keys.all()...).Err(); err != nil {
		return &RedisError{Operation: "reset", Err: err}
	}
	return rb.initialize(ctx)
}

// Close removes this instance from the instance set.
func (rb *RedisTokenBucket) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), rb.config.Timeout)
	defer cancel()
	return rb.config.Client.SRem(ctx, rb.keys.instances, rb.config.InstanceID).Err()
}

// RedisError wraps a failed Redis operation.
type RedisError struct {
	Operation string
	Err       error
}

func (e *RedisError) Error() string {
	return "redis error in " + e.Operation + ": " + e.Err.Error()
}

func (e *RedisError) Unwrap() error {
	return e.Err
}

func timeToFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func floatToTime(f float64) time.Time {
	return time.Unix(0, int64(f*1e9))
}

const luaTryConsume = `
local tokens_key = KEYS[1]
local last_key = KEYS[2]
local stats_key = KEYS[3]

local requested = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local capacity = tonumber(ARGV[4])

local tokens = tonumber(redis.call('GET', tokens_key) or capacity)
local last_refill = tonumber(redis.call('GET', last_key) or now)

local elapsed = math.max(0, now - last_refill)
local available = math.min(capacity, tokens + elapsed * rate)

redis.call('HINCRBY', stats_key, 'total_requests', 1)

if available >= requested then
    available = available - requested
    redis.call('SET', tokens_key, tostring(available))
    redis.call('SET', last_key, tostring(now))
    redis.call('HINCRBY', stats_key, 'allowed_requests', 1)
    return {1, tostring(available), "0"}
end

redis.call('SET', tokens_key, tostring(available))
redis.call('SET', last_key, tostring(now))
redis.call('HINCRBY', stats_key, 'denied_requests', 1)
return {0, tostring(available), tostring((requested - available) / rate)}
`
