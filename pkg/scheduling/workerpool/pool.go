package workerpool

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vnykmshr/multiproc/pkg/admission"
	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/common/validation"
	"github.com/vnykmshr/multiproc/pkg/metrics"
	"github.com/vnykmshr/multiproc/pkg/work"
)

// Config holds configuration options for creating a pool.
type Config struct {
	// Name identifies the pool in logs and metrics.
	// Defaults to "pool-" followed by a random id.
	Name string

	// WorkerCount is the number of worker processes.
	// Zero means one per CPU. Negative values are rejected.
	WorkerCount int

	// Command is the executable started for each worker. It must call
	// worker.Main early in main. Defaults to the running executable.
	Command string

	// Args are passed to Command.
	Args []string

	// Env is appended to the parent environment of every worker.
	Env []string

	// Dir is the working directory of the workers.
	Dir string

	// Stderr receives worker stderr. Defaults to os.Stderr.
	Stderr io.Writer

	// ChunkSize is the default number of items per chunk.
	// Zero spreads each job evenly across the workers.
	ChunkSize int

	// Timeout is the default per-item timeout. Zero or negative disables it.
	Timeout time.Duration

	// Throttle, if set, must grant one token per item before a job is admitted.
	Throttle admission.Throttle

	// Logger receives lifecycle and failure events. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Workers      int
	ReadyWorkers int
	QueuedJobs   int
	ActiveJobs   int
	Submitted    int64
	Completed    int64
	Failed       int64
	Restarts     int64
}

// Pool distributes jobs across a fixed set of worker processes.
//
// A job is cut into chunks that are handed to idle workers; results are
// written back by absolute index so the caller receives them in input
// order. Jobs are admitted in FIFO order.
//
// All controller state is guarded by one mutex. Responses from workers,
// timer expiries and caller operations each run to completion while
// holding it.
type Pool struct {
	name     string
	config   Config
	command  string
	stderr   io.Writer
	logger   *zap.Logger
	metrics  *metrics.Registry
	throttle admission.Throttle

	mu        sync.Mutex
	workers   []*workerHandle
	ready     []*workerHandle
	queue     []*job
	jobs      map[int64]*job
	nextJobID int64
	closed    bool
	draining  bool
	defined   map[string]*Defined

	submitted int64
	completed int64
	failed    int64
	restarts  int64

	procs    sync.WaitGroup
	exitOnce sync.Once
	exited   chan struct{}
}

// job is the controller-side state of one map call.
type job struct {
	id        int64
	items     []json.RawMessage
	work      work.Work
	chunkSize int
	timeout   time.Duration
	perChunk  bool
	onResult  func(value any, index int)
	next      int
	results   []json.RawMessage
	filled    []bool
	remaining int
	settled   bool
	started   time.Time
	settle    func([]json.RawMessage, error)
}

// New creates a pool with workerCount workers and default settings.
func New(workerCount int) (*Pool, error) {
	return NewWithConfig(Config{WorkerCount: workerCount})
}

// NewWithConfig creates a pool and starts its worker processes.
func NewWithConfig(config Config) (*Pool, error) {
	if err := validation.ValidateNonNegative("workerpool", "WorkerCount", config.WorkerCount); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("workerpool", "ChunkSize", config.ChunkSize); err != nil {
		return nil, err
	}
	if config.Timeout < 0 {
		config.Timeout = 0
	}

	if config.WorkerCount == 0 {
		config.WorkerCount = runtime.NumCPU()
	}
	if config.Name == "" {
		config.Name = "pool-" + uuid.NewString()[:8]
	}

	command := config.Command
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating worker executable: %w", err)
		}
		command = exe
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stderr := config.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	p := &Pool{
		name:     config.Name,
		config:   config,
		command:  command,
		stderr:   stderr,
		logger:   logger.With(zap.String("pool", config.Name)),
		metrics:  metrics.Resolve(config.Metrics),
		throttle: config.Throttle,
		jobs:     make(map[int64]*job),
		defined:  make(map[string]*Defined),
		exited:   make(chan struct{}),
	}

	p.mu.Lock()
	p.workers = make([]*workerHandle, config.WorkerCount)
	for i := range p.workers {
		h := newWorkerHandle(p, i)
		p.workers[i] = h
		if err := h.spawn(); err != nil {
			p.workers = p.workers[:i]
			p.mu.Unlock()
			<-p.Terminate()
			return nil, fmt.Errorf("starting worker %d: %w", i, err)
		}
	}
	p.ready = append([]*workerHandle(nil), p.workers...)
	p.observe()
	p.mu.Unlock()

	p.logger.Info("pool started",
		zap.Int("workers", config.WorkerCount),
		zap.String("command", command))

	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return len(p.workers)
}

// QueueLength returns the number of jobs that still have undispatched chunks.
func (p *Pool) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// ReadyWorkers returns the number of workers waiting for a chunk.
func (p *Pool) ReadyWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ready)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:      len(p.workers),
		ReadyWorkers: len(p.ready),
		QueuedJobs:   len(p.queue),
		ActiveJobs:   len(p.jobs),
		Submitted:    p.submitted,
		Completed:    p.completed,
		Failed:       p.failed,
		Restarts:     p.restarts,
	}
}

// Closed reports whether Close or Terminate has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) done() <-chan struct{} {
	p.exitOnce.Do(func() {
		go func() {
			p.procs.Wait()
			close(p.exited)
		}()
	})
	return p.exited
}

// failureReason maps a job error to the reason label used in metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, mperrors.ErrTimeout):
		return "timeout"
	case errors.Is(err, mperrors.ErrTerminated):
		return "terminated"
	case errors.Is(err, mperrors.ErrWorkerExited):
		return "worker_exited"
	default:
		return "error"
	}
}
