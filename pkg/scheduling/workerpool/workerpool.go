package workerpool

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/wire"
	"github.com/vnykmshr/multiproc/pkg/work"
)

// Submit admits a job mapping w over items and returns a Future for the
// ordered results. Admission errors (closed pool, invalid work, items that
// cannot be encoded, a refusing throttle) settle the Future immediately.
//
// Submit blocks only while a configured throttle withholds tokens.
func (p *Pool) Submit(items []any, w work.Work, opts ...Option) *Future[[]any] {
	f := newFuture(decodeAll)
	p.submit(context.Background(), items, w, opts, f.settleRaw)
	return f
}

// Map runs w over items and waits for the ordered results. Cancelling ctx
// stops the wait; the job itself keeps running.
func (p *Pool) Map(ctx context.Context, items []any, w work.Work, opts ...Option) ([]any, error) {
	f := newFuture(decodeAll)
	p.submit(ctx, items, w, opts, f.settleRaw)
	return f.Wait(ctx)
}

// ApplyAsync runs w on a single item.
func (p *Pool) ApplyAsync(item any, w work.Work, opts ...Option) *Future[any] {
	f := newFuture(decodeFirst)
	p.submit(context.Background(), []any{item}, w, opts, f.settleRaw)
	return f
}

// Apply runs w on a single item and waits for its result.
func (p *Pool) Apply(ctx context.Context, item any, w work.Work, opts ...Option) (any, error) {
	f := newFuture(decodeFirst)
	p.submit(ctx, []any{item}, w, opts, f.settleRaw)
	return f.Wait(ctx)
}

// MapAs is Map with typed input and output.
func MapAs[Out, In any](ctx context.Context, p *Pool, items []In, w work.Work, opts ...Option) ([]Out, error) {
	f := newFuture(decodeAllAs[Out])
	p.submit(ctx, anySlice(items), w, opts, f.settleRaw)
	return f.Wait(ctx)
}

// ApplyAs is Apply with typed input and output.
func ApplyAs[Out, In any](ctx context.Context, p *Pool, item In, w work.Work, opts ...Option) (Out, error) {
	f := newFuture(decodeFirstAs[Out])
	p.submit(ctx, []any{item}, w, opts, f.settleRaw)
	return f.Wait(ctx)
}

func anySlice[T any](items []T) []any {
	if items == nil {
		return nil
	}
	out := make([]any, len(items))
	for i := range items {
		out[i] = items[i]
	}
	return out
}

func (p *Pool) submit(ctx context.Context, items []any, w work.Work, opts []Option, settle func([]json.RawMessage, error)) {
	o, err := p.resolveOptions(opts)
	if err != nil {
		settle(nil, err)
		return
	}
	if p.Closed() {
		settle(nil, mperrors.ErrClosed)
		return
	}
	if err := w.Validate(); err != nil {
		settle(nil, err)
		return
	}
	if len(items) == 0 {
		settle([]json.RawMessage{}, nil)
		return
	}

	encoded, err := wire.EncodeItems(items)
	if err != nil {
		settle(nil, err)
		return
	}

	if p.throttle != nil {
		if err := p.throttle.Wait(ctx, len(items)); err != nil {
			settle(nil, err)
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		settle(nil, mperrors.ErrClosed)
		return
	}

	chunkSize := o.chunkSize
	if chunkSize == 0 {
		chunkSize = p.config.ChunkSize
	}
	if chunkSize == 0 {
		chunkSize = (len(encoded) + len(p.workers) - 1) / len(p.workers)
	}

	j := &job{
		id:        p.nextJobID,
		items:     encoded,
		work:      w,
		chunkSize: chunkSize,
		timeout:   o.timeout,
		perChunk:  o.perChunk,
		onResult:  o.onResult,
		results:   make([]json.RawMessage, len(encoded)),
		filled:    make([]bool, len(encoded)),
		remaining: len(encoded),
		started:   time.Now(),
		settle:    settle,
	}
	p.nextJobID++
	p.jobs[j.id] = j
	p.submitted++
	if p.metrics != nil {
		p.metrics.JobsSubmitted.WithLabelValues(p.name).Inc()
	}

	for _, h := range p.workers {
		h.registerJob(j)
	}
	p.queue = append(p.queue, j)

	p.logger.Debug("job queued",
		zap.Int64("job", j.id),
		zap.Stringer("work", w),
		zap.Int("items", len(encoded)),
		zap.Int("chunk_size", chunkSize),
		zap.Duration("timeout", o.timeout))

	p.dispatch()
}

// dispatch hands chunks of the head job to ready workers, most recently
// freed worker first.
func (p *Pool) dispatch() {
	for len(p.queue) > 0 && len(p.ready) > 0 {
		j := p.queue[0]

		h := p.ready[len(p.ready)-1]
		p.ready[len(p.ready)-1] = nil
		p.ready = p.ready[:len(p.ready)-1]
		h.idle = false

		end := min(j.next+j.chunkSize, len(j.items))
		h.runJob(j, j.next, wire.JoinChunk(j.items[j.next:end]))
		if p.metrics != nil {
			p.metrics.ChunksDispatched.WithLabelValues(p.name).Inc()
		}
		p.logger.Debug("chunk dispatched",
			zap.Int64("job", j.id),
			zap.Int("worker", h.id),
			zap.Int("chunk_index", j.next),
			zap.Int("items", end-j.next))

		j.next = end
		if j.next >= len(j.items) {
			p.queue[0] = nil
			p.queue = p.queue[1:]
		}
	}

	if p.closed {
		p.drainIfIdle()
	}
	p.observe()
}

// release returns h to the ready stack once its chunk is done.
func (p *Pool) release(h *workerHandle) {
	if h.terminated {
		if h.running == 0 {
			h.closeInput()
		}
		return
	}
	if h.proc == nil {
		p.removeReady(h)
		p.failIfNoWorkers()
		return
	}
	if h.running == 0 && !h.idle {
		h.idle = true
		p.ready = append(p.ready, h)
	}
	p.dispatch()
}

func (p *Pool) removeReady(h *workerHandle) {
	for i, r := range p.ready {
		if r == h {
			p.ready = append(p.ready[:i], p.ready[i+1:]...)
			break
		}
	}
	h.idle = false
}

// failIfNoWorkers fails every job once no slot has a live process left,
// since nothing could ever run their chunks.
func (p *Pool) failIfNoWorkers() {
	for _, h := range p.workers {
		if h.proc != nil {
			return
		}
	}
	p.logger.Error("no live worker processes left")
	for _, j := range p.sortedJobs() {
		p.failJob(j, mperrors.ErrWorkerExited)
	}
}

// handleResult merges one worker message into j. err is set for worker
// failures, timeouts, exits and termination; resp may then be nil.
func (p *Pool) handleResult(j *job, h *workerHandle, err error, resp *wire.Response) {
	if j.settled {
		h.deregisterJob(j.id)
		return
	}
	if err != nil {
		p.failJob(j, err)
		return
	}
	if resp == nil {
		return
	}

	for offset, raw := range resp.Values() {
		p.fill(j, resp.Index+offset, raw)
	}
	if j.remaining == 0 {
		p.completeJob(j)
	}
}

func (p *Pool) fill(j *job, index int, raw json.RawMessage) {
	if index < 0 || index >= len(j.results) || j.filled[index] {
		p.logger.Debug("dropping result",
			zap.Int64("job", j.id),
			zap.Int("index", index))
		return
	}
	j.results[index] = raw
	j.filled[index] = true
	j.remaining--
	if p.metrics != nil {
		p.metrics.ItemsProcessed.WithLabelValues(p.name).Inc()
	}

	if j.onResult != nil {
		v, err := wire.Decode(raw)
		if err != nil {
			p.logger.Warn("cannot decode result for callback",
				zap.Int64("job", j.id), zap.Int("index", index), zap.Error(err))
		}
		j.onResult(v, index)
	}
}

func (p *Pool) completeJob(j *job) {
	p.finish(j)
	p.completed++
	if p.metrics != nil {
		p.metrics.JobsCompleted.WithLabelValues(p.name).Inc()
	}
	p.logger.Debug("job completed",
		zap.Int64("job", j.id),
		zap.Duration("elapsed", time.Since(j.started)))
	j.settle(j.results, nil)
}

func (p *Pool) failJob(j *job, err error) {
	if j.settled {
		return
	}
	p.finish(j)
	p.failed++
	reason := failureReason(err)
	if p.metrics != nil {
		p.metrics.JobsFailed.WithLabelValues(p.name, reason).Inc()
	}

	log := p.logger.Error
	if reason == "terminated" {
		log = p.logger.Info
	}
	log("job failed",
		zap.Int64("job", j.id),
		zap.Stringer("work", j.work),
		zap.String("reason", reason),
		zap.Error(err))
	j.settle(nil, err)
}

// finish marks j settled and drops it from every worker, the queue and the
// job table.
func (p *Pool) finish(j *job) {
	j.settled = true
	for _, h := range p.workers {
		h.deregisterJob(j.id)
	}
	for i, q := range p.queue {
		if q == j {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	delete(p.jobs, j.id)
	if p.metrics != nil {
		p.metrics.JobDuration.WithLabelValues(p.name).Observe(time.Since(j.started).Seconds())
	}
	p.observe()
}

func (p *Pool) sortedJobs() []*job {
	out := make([]*job, 0, len(p.jobs))
	for id := int64(0); id < p.nextJobID && len(out) < len(p.jobs); id++ {
		if j, ok := p.jobs[id]; ok {
			out = append(out, j)
		}
	}
	return out
}

// Close stops admission. Jobs already admitted run to completion, after
// which the worker processes exit. The returned channel closes once every
// worker process has exited.
func (p *Pool) Close() <-chan struct{} {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.logger.Info("pool closing",
			zap.Int("queued_jobs", len(p.queue)),
			zap.Int("active_jobs", len(p.jobs)))
		p.drainIfIdle()
	}
	p.mu.Unlock()
	return p.done()
}

// drainIfIdle retires the workers once no queued chunks are left.
func (p *Pool) drainIfIdle() {
	if p.draining || len(p.queue) > 0 {
		return
	}
	p.draining = true
	for _, h := range p.workers {
		h.terminateAfterJobsComplete()
	}
}

// Terminate kills every worker process. Jobs that have not settled fail
// with ErrTerminated. The returned channel closes once every worker
// process has been reaped.
func (p *Pool) Terminate() <-chan struct{} {
	p.mu.Lock()
	if !p.closed || !p.draining || len(p.jobs) > 0 {
		p.logger.Info("pool terminating", zap.Int("active_jobs", len(p.jobs)))
	}
	p.closed = true
	p.draining = true
	for _, h := range p.workers {
		h.terminateImmediately()
	}
	p.queue = nil
	for _, j := range p.sortedJobs() {
		p.failJob(j, mperrors.ErrTerminated)
	}
	p.observe()
	p.mu.Unlock()
	return p.done()
}
