package priority

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vnykmshr/multiproc/pkg/admission"
	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/common/validation"
	"github.com/vnykmshr/multiproc/pkg/heap"
	"github.com/vnykmshr/multiproc/pkg/metrics"
	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
	"github.com/vnykmshr/multiproc/pkg/work"
)

// Config holds configuration options for a Queue.
type Config struct {
	// Name identifies the queue in logs and metrics.
	Name string

	// WorkerCount is the number of slots. When Pool is nil it is also the
	// size of the pool the queue starts and owns. Zero means one slot per
	// pool worker.
	WorkerCount int

	// Pool runs the tasks. If nil the queue starts its own pool and shuts
	// it down on Close and Terminate.
	Pool *workerpool.Pool

	// PoolConfig configures the owned pool. WorkerCount overrides its
	// WorkerCount when set. The pool inherits Logger and Metrics unless
	// PoolConfig sets its own.
	PoolConfig workerpool.Config

	// Logger receives lifecycle events. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

// Queue admits single-item tasks to a pool in priority order whenever the
// pool is saturated.
type Queue struct {
	name    string
	pool    *workerpool.Pool
	owned   bool
	logger  *zap.Logger
	metrics *metrics.Registry

	mu      sync.Mutex
	pending *heap.Heap[float64, *task]
	slots   *admission.Slots
	closed  bool
	drained chan struct{}

	inflight sync.WaitGroup
}

type task struct {
	value  any
	work   work.Work
	opts   []workerpool.Option
	settle func(any, error)
}

// New creates a queue with its own pool of workerCount workers.
func New(workerCount int) (*Queue, error) {
	return NewWithConfig(Config{WorkerCount: workerCount})
}

// NewWithConfig creates a queue from config.
func NewWithConfig(config Config) (*Queue, error) {
	if err := validation.ValidateNonNegative("priority", "WorkerCount", config.WorkerCount); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "priority-" + uuid.NewString()[:8]
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := config.Pool
	owned := p == nil
	if owned {
		pc := config.PoolConfig
		if config.WorkerCount > 0 {
			pc.WorkerCount = config.WorkerCount
		}
		if pc.Name == "" {
			pc.Name = config.Name
		}
		if pc.Logger == nil {
			pc.Logger = logger
		}
		if !pc.Metrics.Enabled {
			pc.Metrics = config.Metrics
		}
		var err error
		if p, err = workerpool.NewWithConfig(pc); err != nil {
			return nil, err
		}
	}

	n := config.WorkerCount
	if n == 0 {
		n = p.Size()
	}
	slots, err := admission.NewSlots(n)
	if err != nil {
		if owned {
			<-p.Terminate()
		}
		return nil, err
	}

	q := &Queue{
		name:    config.Name,
		pool:    p,
		owned:   owned,
		logger:  logger.With(zap.String("queue", config.Name)),
		metrics: metrics.Resolve(config.Metrics),
		pending: heap.New[float64, *task](),
		slots:   slots,
		drained: make(chan struct{}),
	}
	q.observe()
	return q, nil
}

// Pool returns the pool the queue submits to.
func (q *Queue) Pool() *workerpool.Pool {
	return q.pool
}

// Submit queues value for w at priority prio and returns a Future for its
// result. Higher priorities are released first.
func (q *Queue) Submit(value any, prio float64, w work.Work, opts ...workerpool.Option) *workerpool.Future[any] {
	f, settle := workerpool.NewFuture[any]()
	if err := w.Validate(); err != nil {
		settle(nil, err)
		return f
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		settle(nil, mperrors.ErrClosed)
		return f
	}
	q.pending.Insert(prio, &task{value: value, work: w, opts: opts, settle: settle})
	q.logger.Debug("task queued", zap.Float64("priority", prio), zap.Int("pending", q.pending.Len()))
	ready := q.tick()
	q.mu.Unlock()

	if len(ready) > 0 {
		go q.launch(ready)
	}
	return f
}

// Push is Submit followed by a wait bounded by ctx.
func (q *Queue) Push(ctx context.Context, value any, prio float64, w work.Work, opts ...workerpool.Option) (any, error) {
	return q.Submit(value, prio, w, opts...).Wait(ctx)
}

// Len returns the number of tasks waiting for a slot.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Available returns the number of free slots.
func (q *Queue) Available() int {
	return q.slots.Available()
}

// tick takes a slot for each waiting task it can release, highest
// priority first, and returns them for launch. Called with q.mu held.
func (q *Queue) tick() []*task {
	var ready []*task
	for q.pending.Len() > 0 && q.slots.TryAcquire() {
		item, _ := q.pending.PopMax()
		ready = append(ready, item.Value)
		q.inflight.Add(1)

		if q.metrics != nil {
			q.metrics.PriorityDispatched.WithLabelValues(q.name).Inc()
		}
		q.logger.Debug("task dispatched", zap.Float64("priority", item.Key))
	}
	q.observe()
	q.checkDrained()
	return ready
}

// launch submits ready tasks to the pool in the order tick released them.
// It runs without q.mu so a throttled pool blocks only this goroutine.
func (q *Queue) launch(ready []*task) {
	for _, t := range ready {
		f := q.pool.ApplyAsync(t.value, t.work, t.opts...)
		go q.await(t, f)
	}
}

func (q *Queue) await(t *task, f *workerpool.Future[any]) {
	defer q.inflight.Done()

	t.settle(f.Result())

	q.mu.Lock()
	q.slots.Release()
	ready := q.tick()
	q.mu.Unlock()

	q.launch(ready)
}

// checkDrained closes drained once a closed queue has nothing left.
// Called with q.mu held.
func (q *Queue) checkDrained() {
	if !q.closed || q.pending.Len() > 0 || q.slots.InUse() > 0 {
		return
	}
	select {
	case <-q.drained:
	default:
		close(q.drained)
	}
}

// Close refuses new tasks. Waiting tasks are still released in priority
// order. The returned channel closes once every task has settled and, for
// an owned pool, every worker process has exited.
func (q *Queue) Close() <-chan struct{} {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.logger.Info("queue closing", zap.Int("pending", q.pending.Len()))
	}
	q.checkDrained()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-q.drained
		q.inflight.Wait()
		if q.owned {
			<-q.pool.Close()
		}
	}()
	return done
}

// Terminate fails every waiting task with ErrTerminated. An owned pool is
// terminated as well, which fails the running tasks.
func (q *Queue) Terminate() <-chan struct{} {
	q.mu.Lock()
	q.closed = true
	dropped := 0
	for {
		item, ok := q.pending.PopMax()
		if !ok {
			break
		}
		item.Value.settle(nil, mperrors.ErrTerminated)
		dropped++
	}
	if dropped > 0 {
		q.logger.Info("queue terminated", zap.Int("dropped", dropped))
	}
	q.observe()
	q.checkDrained()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if q.owned {
			<-q.pool.Terminate()
		}
		q.inflight.Wait()
	}()
	return done
}

func (q *Queue) observe() {
	if q.metrics == nil {
		return
	}
	q.metrics.PriorityPending.WithLabelValues(q.name).Set(float64(q.pending.Len()))
	q.metrics.PrioritySlots.WithLabelValues(q.name).Set(float64(q.slots.Available()))
}
