package workerpool

import (
	"time"

	"github.com/vnykmshr/multiproc/pkg/common/validation"
)

// Option adjusts a single job.
type Option func(*jobOptions)

type jobOptions struct {
	chunkSize  int
	timeout    time.Duration
	timeoutSet bool
	perChunk   bool
	onResult   func(value any, index int)
}

// WithChunkSize sets the number of items handed to a worker at a time.
func WithChunkSize(n int) Option {
	return func(o *jobOptions) { o.chunkSize = n }
}

// WithTimeout bounds how long a worker may take to report each item.
// The window restarts after every reported item. Zero or a negative
// duration disables the timeout even if the pool has a default.
func WithTimeout(d time.Duration) Option {
	return func(o *jobOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// WithChunkTimeout bounds how long a worker may take for a whole chunk.
// Unlike WithTimeout the window does not restart after each item.
func WithChunkTimeout(d time.Duration) Option {
	return func(o *jobOptions) {
		o.timeout = d
		o.timeoutSet = true
		o.perChunk = true
	}
}

// WithOnResult registers a callback run as each item result is merged.
// It runs while the pool is locked and must not call back into the pool.
func WithOnResult(fn func(value any, index int)) Option {
	return func(o *jobOptions) { o.onResult = fn }
}

func (p *Pool) resolveOptions(opts []Option) (jobOptions, error) {
	var o jobOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if err := validation.ValidateNonNegative("workerpool", "ChunkSize", o.chunkSize); err != nil {
		return o, err
	}
	if !o.timeoutSet {
		o.timeout = p.config.Timeout
	}
	if o.timeout < 0 {
		o.timeout = 0
	}
	return o, nil
}
