package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/multiproc/internal/testutil"
	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/metrics"
	"github.com/vnykmshr/multiproc/pkg/scheduling/priority"
	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
	"github.com/vnykmshr/multiproc/pkg/work"
)

// countingSubmitter records every run and answers with fn.
type countingSubmitter struct {
	runs int32
	fn   func(attempt int32, sub Submission) ([]any, error)
}

func (c *countingSubmitter) Run(_ context.Context, sub Submission) ([]any, error) {
	n := atomic.AddInt32(&c.runs, 1)
	if c.fn != nil {
		return c.fn(n, sub)
	}
	return sub.Items, nil
}

func newScheduler(t *testing.T, cfg Config) Scheduler {
	t.Helper()
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 5 * time.Millisecond
	}
	s, err := NewWithConfig(cfg)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Start())
	t.Cleanup(func() { testutil.WaitClosed(t, s.Stop()) })
	return s
}

var noop = Submission{Items: []any{1}, Work: work.Func("double")}

func TestNewRequiresSubmitter(t *testing.T) {
	_, err := New(nil)
	testutil.AssertErrorIs(t, err, mperrors.ErrInvalidConfiguration)
}

func TestSchedule(t *testing.T) {
	sub := &countingSubmitter{}
	s := newScheduler(t, Config{Submitter: sub})

	testutil.AssertNoError(t, s.Schedule("now", noop, time.Now()))
	testutil.AssertNoError(t, s.ScheduleAfter("later", noop, 30*time.Millisecond))

	testutil.WaitForInt32(t, &sub.runs, 2, time.Second)
	testutil.Eventually(t, func() bool { return len(s.List()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduleValidation(t *testing.T) {
	s := newScheduler(t, Config{Submitter: &countingSubmitter{}})

	tests := []struct {
		name string
		err  error
	}{
		{"empty id", s.Schedule("", noop, time.Now())},
		{"long id", s.Schedule(string(make([]byte, 256)), noop, time.Now())},
		{"zero time", s.Schedule("zero", noop, time.Time{})},
		{"invalid work", s.Schedule("nowork", Submission{}, time.Now())},
		{"bad interval", s.ScheduleRepeating("r", noop, 0)},
		{"empty cron", s.ScheduleCron("c", "", noop)},
		{"bad cron", s.ScheduleCron("c", "not a cron", noop)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertError(t, tt.err)
		})
	}

	testutil.AssertNoError(t, s.ScheduleAfter("dup", noop, time.Hour))
	testutil.AssertError(t, s.ScheduleAfter("dup", noop, time.Hour))
}

func TestMaxTasks(t *testing.T) {
	s := newScheduler(t, Config{Submitter: &countingSubmitter{}, MaxTasks: 2})

	testutil.AssertNoError(t, s.ScheduleAfter("a", noop, time.Hour))
	testutil.AssertNoError(t, s.ScheduleAfter("b", noop, time.Hour))
	testutil.AssertErrorIs(t, s.ScheduleAfter("c", noop, time.Hour), mperrors.ErrCapacityExceeded)
}

func TestScheduleRepeating(t *testing.T) {
	sub := &countingSubmitter{}
	s := newScheduler(t, Config{Submitter: sub})

	testutil.AssertNoError(t, s.ScheduleRepeating("repeat", noop, 20*time.Millisecond))

	testutil.Eventually(t, func() bool {
		return atomic.LoadInt32(&sub.runs) >= 3
	}, time.Second, 10*time.Millisecond)

	testutil.AssertEqual(t, s.Cancel("repeat"), true)
	testutil.AssertEqual(t, s.Cancel("repeat"), false)
}

func TestScheduleCron(t *testing.T) {
	sub := &countingSubmitter{}
	s := newScheduler(t, Config{Submitter: sub, Location: time.UTC})

	testutil.AssertNoError(t, s.ScheduleCron("every-second", "* * * * * *", noop))
	testutil.AssertNoError(t, s.ScheduleCron("hourly", "@hourly", noop))
	testutil.AssertNoError(t, s.ScheduleCron("five-field", "0 3 * * 1", noop))

	next, ok := s.Next("hourly")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, next.Minute(), 0)
	testutil.AssertEqual(t, next.Second(), 0)

	testutil.Eventually(t, func() bool {
		return atomic.LoadInt32(&sub.runs) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	for _, task := range s.List() {
		if task.ID == "every-second" && task.Cron != "* * * * * *" {
			t.Errorf("Cron = %q", task.Cron)
		}
	}
}

func TestValidateCron(t *testing.T) {
	testutil.AssertNoError(t, ValidateCron("*/5 * * * *"))
	testutil.AssertNoError(t, ValidateCron("0 */5 * * * *"))
	testutil.AssertNoError(t, ValidateCron("@daily"))
	testutil.AssertError(t, ValidateCron("61 * * * *"))
}

func TestListOrder(t *testing.T) {
	s := newScheduler(t, Config{Submitter: &countingSubmitter{}})
	now := time.Now()

	testutil.AssertNoError(t, s.Schedule("c", noop, now.Add(3*time.Hour)))
	testutil.AssertNoError(t, s.Schedule("a", noop, now.Add(time.Hour)))
	testutil.AssertNoError(t, s.Schedule("b", noop, now.Add(2*time.Hour)))

	var ids []string
	for _, task := range s.List() {
		ids = append(ids, task.ID)
	}
	testutil.AssertDeepEqual(t, ids, []string{"a", "b", "c"})

	s.CancelAll()
	testutil.AssertEqual(t, len(s.List()), 0)
}

func TestOnDone(t *testing.T) {
	failing := errors.New("boom")
	sub := &countingSubmitter{fn: func(_ int32, s Submission) ([]any, error) {
		if s.Items[0] == "fail" {
			return nil, failing
		}
		return s.Items, nil
	}}
	s := newScheduler(t, Config{Submitter: sub})

	results := make(chan error, 2)
	onDone := func(_ string, _ []any, err error) { results <- err }

	testutil.AssertNoError(t, s.Schedule("ok", Submission{Items: []any{"ok"}, Work: work.Func("double"), OnDone: onDone}, time.Now()))
	testutil.AssertNoError(t, s.Schedule("fail", Submission{Items: []any{"fail"}, Work: work.Func("double"), OnDone: onDone}, time.Now()))

	var errs []error
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			errs = append(errs, err)
		case <-time.After(time.Second):
			t.Fatal("OnDone not called")
		}
	}

	var failed int
	for _, err := range errs {
		if errors.Is(err, failing) {
			failed++
		}
	}
	testutil.AssertEqual(t, failed, 1)
}

func TestRetries(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		retries  int
		wantRuns int32
	}{
		{"retryable", mperrors.ErrTimeout, 2, 3},
		{"worker exit", fmt.Errorf("chunk: %w", mperrors.ErrWorkerExited), 1, 2},
		{"not retryable", errors.New("bad input"), 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &countingSubmitter{fn: func(int32, Submission) ([]any, error) {
				return nil, tt.err
			}}
			s := newScheduler(t, Config{Submitter: sub})

			done := make(chan error, 1)
			testutil.AssertNoError(t, s.Schedule("retry", Submission{
				Items:      []any{1},
				Work:       work.Func("double"),
				MaxRetries: tt.retries,
				RetryDelay: time.Millisecond,
				OnDone:     func(_ string, _ []any, err error) { done <- err },
			}, time.Now()))

			select {
			case err := <-done:
				testutil.AssertErrorIs(t, err, tt.err)
			case <-time.After(time.Second):
				t.Fatal("task did not finish")
			}
			testutil.AssertEqual(t, atomic.LoadInt32(&sub.runs), tt.wantRuns)
		})
	}
}

func TestStartTwice(t *testing.T) {
	s := newScheduler(t, Config{Submitter: &countingSubmitter{}})
	testutil.AssertError(t, s.Start())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	sub := &countingSubmitter{fn: func(n int32, s Submission) ([]any, error) {
		if n == 2 {
			return nil, errors.New("boom")
		}
		return s.Items, nil
	}}
	s := newScheduler(t, Config{
		Name:      "sched-metrics",
		Submitter: sub,
		Metrics:   metrics.Config{Enabled: true, Registry: reg},
	})

	testutil.AssertNoError(t, s.Schedule("one", noop, time.Now()))
	testutil.WaitForInt32(t, &sub.runs, 1, time.Second)
	testutil.AssertNoError(t, s.Schedule("two", noop, time.Now()))
	testutil.WaitForInt32(t, &sub.runs, 2, time.Second)

	m := s.(*scheduler).metrics
	testutil.AssertEqual(t, promtestutil.ToFloat64(m.TasksScheduled.WithLabelValues("sched-metrics")), 2.0)
	testutil.Eventually(t, func() bool {
		return promtestutil.ToFloat64(m.TasksFailed.WithLabelValues("sched-metrics")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPoolSubmitter(t *testing.T) {
	p, err := workerpool.New(2)
	testutil.AssertNoError(t, err)
	defer func() { testutil.WaitClosed(t, p.Terminate()) }()

	s := newScheduler(t, Config{Submitter: PoolSubmitter(p)})

	type outcome struct {
		results []any
		err     error
	}
	done := make(chan outcome, 1)
	testutil.AssertNoError(t, s.Schedule("map", Submission{
		Items:  []any{1, 2, 3},
		Work:   work.Func("double"),
		OnDone: func(_ string, results []any, err error) { done <- outcome{results, err} },
	}, time.Now()))

	select {
	case o := <-done:
		testutil.AssertNoError(t, o.err)
		testutil.AssertDeepEqual(t, o.results, []any{2.0, 4.0, 6.0})
	case <-time.After(testutil.TestTimeout):
		t.Fatal("submission did not complete")
	}
}

func TestQueueSubmitter(t *testing.T) {
	q, err := priority.New(1)
	testutil.AssertNoError(t, err)
	defer func() { testutil.WaitClosed(t, q.Terminate()) }()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	results, err := QueueSubmitter(q).Run(ctx, Submission{
		Items:    []any{4, 5},
		Work:     work.Func("double"),
		Priority: 3,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertDeepEqual(t, results, []any{8.0, 10.0})

	_, err = QueueSubmitter(q).Run(ctx, Submission{Items: []any{1}, Work: work.Func("missing")})
	testutil.AssertError(t, err)
}
