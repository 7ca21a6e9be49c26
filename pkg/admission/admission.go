// Package admission gates work before it reaches a pool.
//
// A Throttle decides when a job of n items may be admitted. TokenBucket
// limits the local admission rate, RedisTokenBucket shares one budget
// across processes through Redis. Slots bounds how many tasks may be in
// flight at once and backs the priority queue.
package admission

import (
	"context"
	"math"
	"time"

	"github.com/vnykmshr/multiproc/pkg/metrics"
)

// Throttle admits jobs. Wait blocks until n items may be admitted or ctx
// is done.
type Throttle interface {
	Wait(ctx context.Context, n int) error
}

// Limit is a rate of tokens per second. Use Inf for no limit.
type Limit float64

// Inf admits everything.
var Inf = Limit(math.Inf(1))

// Every converts a minimum interval between tokens to a Limit.
func Every(interval time.Duration) Limit {
	if interval <= 0 {
		return Inf
	}
	return Limit(time.Second) / Limit(interval)
}

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// instrument records one admission attempt.
func instrument(m *metrics.Registry, kind, name string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.AdmissionRequests.WithLabelValues(kind, name).Inc()
	if err != nil {
		m.AdmissionDenied.WithLabelValues(kind, name).Inc()
		return
	}
	m.AdmissionWaitTime.WithLabelValues(kind, name).Observe(time.Since(start).Seconds())
}
