package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/metrics"
	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
	"github.com/vnykmshr/multiproc/pkg/work"
)

// Submission is the job a scheduled task fires.
type Submission struct {
	// Items are mapped over Work. A single-item submission to a priority
	// queue is pushed with Priority.
	Items []any
	Work  work.Work

	// Options are applied to every job the submission creates.
	Options []workerpool.Option

	// Priority is used by queue submitters and ignored by pools.
	Priority float64

	// MaxRetries resubmits a failed job when the failure is retryable
	// (timeouts, worker exits, throttle refusals).
	MaxRetries int

	// RetryDelay is the first delay between attempts. It doubles after
	// every attempt up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// OnDone receives the outcome of every firing.
	OnDone func(id string, results []any, err error)
}

// Task describes a scheduled task.
type Task struct {
	ID       string
	RunAt    time.Time
	Interval time.Duration // Zero for one-time and cron tasks
	Cron     string
	Runs     int
	Created  time.Time
}

// Scheduler fires submissions at a time, on an interval or on a cron
// schedule.
type Scheduler interface {
	// Basic scheduling
	Schedule(id string, sub Submission, runAt time.Time) error
	ScheduleAfter(id string, sub Submission, delay time.Duration) error
	ScheduleRepeating(id string, sub Submission, interval time.Duration) error

	// Cron scheduling
	ScheduleCron(id string, cronExpr string, sub Submission) error

	// Task management
	Cancel(id string) bool
	CancelAll()
	List() []Task
	Next(id string) (time.Time, bool)

	// Lifecycle
	Start() error
	Stop() <-chan struct{}
}

// Config holds scheduler configuration.
type Config struct {
	// Name identifies the scheduler in logs and metrics.
	Name string

	// Submitter runs fired submissions. Required.
	Submitter Submitter

	Location     *time.Location // For cron scheduling
	TickInterval time.Duration  // How often to check for ready tasks (default: 50ms)
	MaxTasks     int            // Maximum number of scheduled tasks (default: 10000)

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config
}

type scheduledTask struct {
	id           string
	sub          Submission
	runAt        time.Time
	interval     time.Duration
	cronExpr     string
	cronSchedule cron.Schedule
	runs         int
	created      time.Time
}

type scheduler struct {
	name         string
	submitter    Submitter
	location     *time.Location
	tickInterval time.Duration
	maxTasks     int
	logger       *zap.Logger
	metrics      *metrics.Registry

	mu      sync.RWMutex
	tasks   map[string]*scheduledTask
	ticker  *time.Ticker
	done    chan struct{}
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron checks a cron expression without scheduling anything.
// Both five-field and six-field (leading seconds) forms are accepted, as
// are descriptors such as "@hourly".
func ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// New creates a scheduler that fires submissions at s.
func New(s Submitter) (Scheduler, error) {
	return NewWithConfig(Config{Submitter: s})
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) (Scheduler, error) {
	if cfg.Submitter == nil {
		return nil, mperrors.NewValidationError("scheduler", "Submitter", nil, "submitter is required").
			WithHint("use PoolSubmitter or QueueSubmitter")
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = 50 * time.Millisecond
	}

	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10000
	}

	name := cfg.Name
	if name == "" {
		name = "scheduler"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{
		name:         name,
		submitter:    cfg.Submitter,
		location:     location,
		tickInterval: tickInterval,
		maxTasks:     maxTasks,
		logger:       logger.With(zap.String("scheduler", name)),
		metrics:      metrics.Resolve(cfg.Metrics),
		tasks:        make(map[string]*scheduledTask),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func validateTask(id string, sub Submission) error {
	if id == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if len(id) > 255 {
		return fmt.Errorf("task ID too long (max 255 characters)")
	}
	return sub.Work.Validate()
}

// add registers t. Called with s.mu held.
func (s *scheduler) add(t *scheduledTask) error {
	if _, exists := s.tasks[t.id]; exists {
		return fmt.Errorf("task with ID %q already exists, use a different ID or cancel the existing task first", t.id)
	}
	if len(s.tasks) >= s.maxTasks {
		return fmt.Errorf("cannot schedule task: maximum number of tasks (%d) reached: %w", s.maxTasks, mperrors.ErrCapacityExceeded)
	}
	s.tasks[t.id] = t
	if s.metrics != nil {
		s.metrics.TasksScheduled.WithLabelValues(s.name).Inc()
	}
	s.logger.Debug("task scheduled", zap.String("task", t.id), zap.Time("run_at", t.runAt))
	return nil
}

func (s *scheduler) Schedule(id string, sub Submission, runAt time.Time) error {
	if err := validateTask(id, sub); err != nil {
		return err
	}
	if runAt.IsZero() {
		return fmt.Errorf("task run time cannot be zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(&scheduledTask{
		id:      id,
		sub:     sub,
		runAt:   runAt,
		created: time.Now(),
	})
}

func (s *scheduler) ScheduleAfter(id string, sub Submission, delay time.Duration) error {
	return s.Schedule(id, sub, time.Now().Add(delay))
}

func (s *scheduler) ScheduleRepeating(id string, sub Submission, interval time.Duration) error {
	if err := validateTask(id, sub); err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(&scheduledTask{
		id:       id,
		sub:      sub,
		runAt:    time.Now(),
		interval: interval,
		created:  time.Now(),
	})
}

func (s *scheduler) ScheduleCron(id string, cronExpr string, sub Submission) error {
	if err := validateTask(id, sub); err != nil {
		return err
	}
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}

	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(&scheduledTask{
		id:           id,
		sub:          sub,
		runAt:        schedule.Next(time.Now().In(s.location)),
		cronExpr:     cronExpr,
		cronSchedule: schedule,
		created:      time.Now(),
	})
}

func (s *scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		delete(s.tasks, id)
		return true
	}
	return false
}

func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]*scheduledTask)
}

func (s *scheduler) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, Task{
			ID:       t.id,
			RunAt:    t.runAt,
			Interval: t.interval,
			Cron:     t.cronExpr,
			Runs:     t.runs,
			Created:  t.created,
		})
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].RunAt.Equal(tasks[j].RunAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].RunAt.Before(tasks[j].RunAt)
	})

	return tasks
}

func (s *scheduler) Next(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return t.runAt, true
}

func (s *scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running, call Stop() first")
	}
	select {
	case <-s.done:
		return fmt.Errorf("scheduler has been stopped")
	default:
	}

	s.running = true
	s.ticker = time.NewTicker(s.tickInterval)

	s.wg.Add(1)
	go s.run(s.ticker)
	s.logger.Info("scheduler started", zap.Duration("tick", s.tickInterval))
	return nil
}

// Stop halts the ticker and cancels the waits of in-flight submissions.
// Jobs already handed to the submitter keep running there. The returned
// channel closes once every firing has returned.
func (s *scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.done)
		s.ticker.Stop()
		s.logger.Info("scheduler stopped", zap.Int("tasks", len(s.tasks)))
	}
	s.mu.Unlock()
	s.cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.wg.Wait()
	}()
	return stopped
}

func (s *scheduler) run(ticker *time.Ticker) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.processReadyTasks()
		}
	}
}

func (s *scheduler) processReadyTasks() {
	now := time.Now()

	s.mu.Lock()
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return
	}

	ready := make([]*scheduledTask, 0, len(s.tasks))
	for id, t := range s.tasks {
		if now.Before(t.runAt) {
			continue
		}
		t.runs++
		ready = append(ready, t)

		switch {
		case t.interval > 0:
			t.runAt = now.Add(t.interval)
		case t.cronSchedule != nil:
			t.runAt = t.cronSchedule.Next(now.In(s.location))
		default:
			delete(s.tasks, id)
		}
	}
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.wg.Add(len(ready))
	s.mu.Unlock()

	for _, t := range ready {
		go s.fire(t.id, t.sub)
	}
}

// fire submits sub, retrying retryable failures with exponential backoff.
func (s *scheduler) fire(id string, sub Submission) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.TasksExecuted.WithLabelValues(s.name).Inc()
	}

	delay := sub.RetryDelay
	var (
		results []any
		err     error
	)
retry:
	for attempt := 0; ; attempt++ {
		results, err = s.submitter.Run(s.ctx, sub)
		if err == nil || attempt >= sub.MaxRetries || !mperrors.IsRetryable(err) {
			break
		}
		s.logger.Debug("retrying task", zap.String("task", id), zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			err = s.ctx.Err()
			break retry
		}
		delay *= 2
		if sub.MaxRetryDelay > 0 && delay > sub.MaxRetryDelay {
			delay = sub.MaxRetryDelay
		}
	}

	if err != nil {
		if s.metrics != nil {
			s.metrics.TasksFailed.WithLabelValues(s.name).Inc()
		}
		s.logger.Warn("scheduled task failed", zap.String("task", id), zap.Error(err))
	}
	if sub.OnDone != nil {
		sub.OnDone(id, results, err)
	}
}
