// Package output writes JSON lines from callbacks that must not block on
// the destination, such as pool result callbacks.
package output

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/multiproc/pkg/wire"
)

// ErrWriterClosed is returned when writing to a closed Writer.
var ErrWriterClosed = errors.New("writer is closed")

// Config holds configuration options for a Writer.
type Config struct {
	// Backlog is the number of records that may wait to be encoded.
	// Default: 1024
	Backlog int

	// FlushInterval is how often buffered lines are flushed.
	// Default: 100ms. Negative disables periodic flushing.
	FlushInterval time.Duration

	// OnError is called for every encode or write failure.
	OnError func(error)
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Backlog:       1024,
		FlushInterval: 100 * time.Millisecond,
	}
}

// Stats holds counters of a Writer.
type Stats struct {
	Records int64
	Bytes   int64
	Flushes int64
	Errors  int64
}

// Writer encodes records as JSON lines on a background goroutine.
type Writer struct {
	out    *bufio.Writer
	config Config

	records chan any
	flushCh chan chan error
	closeCh chan chan error
	done    chan struct{}

	closed atomic.Bool

	mu    sync.Mutex
	stats Stats
	err   error
}

// New creates a Writer with the default configuration.
func New(w io.Writer) *Writer {
	return NewWithConfig(w, DefaultConfig())
}

// NewWithConfig creates a Writer.
func NewWithConfig(w io.Writer, config Config) *Writer {
	if config.Backlog <= 0 {
		config.Backlog = DefaultConfig().Backlog
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}

	rw := &Writer{
		out:     bufio.NewWriter(w),
		config:  config,
		records: make(chan any, config.Backlog),
		flushCh: make(chan chan error),
		closeCh: make(chan chan error),
		done:    make(chan struct{}),
	}
	go rw.loop()
	return rw
}

// Write queues v to be written as one line. It blocks only while the
// backlog is full.
func (rw *Writer) Write(v any) error {
	if rw.closed.Load() {
		return ErrWriterClosed
	}
	select {
	case rw.records <- v:
		return nil
	case <-rw.done:
		return ErrWriterClosed
	}
}

// Flush waits until every queued record has been written through.
func (rw *Writer) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case rw.flushCh <- reply:
	case <-ctx.Done():
		return ctx.Err()
	case <-rw.done:
		return ErrWriterClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes the remaining records and stops the writer. It returns the
// first error the writer hit.
func (rw *Writer) Close() error {
	if !rw.closed.CompareAndSwap(false, true) {
		<-rw.done
		return rw.firstErr()
	}
	reply := make(chan error, 1)
	rw.closeCh <- reply
	<-reply
	return rw.firstErr()
}

// Stats returns a snapshot of the counters.
func (rw *Writer) Stats() Stats {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.stats
}

func (rw *Writer) firstErr() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.err
}

func (rw *Writer) loop() {
	defer close(rw.done)

	var tick <-chan time.Time
	if rw.config.FlushInterval > 0 {
		ticker := time.NewTicker(rw.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case v := <-rw.records:
			rw.encode(v)
		case reply := <-rw.flushCh:
			rw.drain()
			reply <- rw.flush()
		case <-tick:
			_ = rw.flush()
		case reply := <-rw.closeCh:
			rw.drain()
			reply <- rw.flush()
			return
		}
	}
}

// drain encodes every record already queued.
func (rw *Writer) drain() {
	for {
		select {
		case v := <-rw.records:
			rw.encode(v)
		default:
			return
		}
	}
}

func (rw *Writer) encode(v any) {
	data, err := wire.Marshal(v)
	if err == nil {
		data = append(data, '\n')
		_, err = rw.out.Write(data)
	}
	if err != nil {
		rw.fail(err)
		return
	}
	rw.mu.Lock()
	rw.stats.Records++
	rw.stats.Bytes += int64(len(data))
	rw.mu.Unlock()
}

func (rw *Writer) flush() error {
	if rw.out.Buffered() == 0 {
		return nil
	}
	if err := rw.out.Flush(); err != nil {
		rw.fail(err)
		return err
	}
	rw.mu.Lock()
	rw.stats.Flushes++
	rw.mu.Unlock()
	return nil
}

func (rw *Writer) fail(err error) {
	rw.mu.Lock()
	rw.stats.Errors++
	if rw.err == nil {
		rw.err = err
	}
	rw.mu.Unlock()
	if rw.config.OnError != nil {
		rw.config.OnError(err)
	}
}
