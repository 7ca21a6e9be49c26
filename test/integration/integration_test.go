package integration

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/multiproc/internal/testutil"
	"github.com/vnykmshr/multiproc/pkg/admission"
	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/metrics"
	"github.com/vnykmshr/multiproc/pkg/scheduling/priority"
	"github.com/vnykmshr/multiproc/pkg/scheduling/scheduler"
	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
	"github.com/vnykmshr/multiproc/pkg/work"
)

// TestThrottledPool verifies that a token bucket paces admission of jobs
// into the pool: one token per item.
func TestThrottledPool(t *testing.T) {
	// 50 items/s, burst 10: the first job is admitted at once, the next
	// two wait ~200ms each.
	tb, err := admission.NewTokenBucket(50, 10)
	testutil.AssertNoError(t, err)

	p, err := workerpool.NewWithConfig(workerpool.Config{WorkerCount: 2, Throttle: tb})
	testutil.AssertNoError(t, err)
	defer func() { <-p.Terminate() }()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	batch := []any{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	start := time.Now()
	for i := 0; i < 3; i++ {
		got, err := p.Map(ctx, batch, work.Func("square"))
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, len(got), 10)
		testutil.AssertEqual(t, got[9], any(100.0))
	}
	elapsed := time.Since(start)

	if elapsed < 300*time.Millisecond {
		t.Errorf("expected throttling to take at least 300ms, took %v", elapsed)
	}
}

// TestThrottleRefusal verifies that a refusing throttle fails the job
// without reaching a worker.
func TestThrottleRefusal(t *testing.T) {
	tb, err := admission.NewTokenBucketWithConfig(admission.BucketConfig{Rate: 0, Burst: 1, InitialTokens: 0})
	testutil.AssertNoError(t, err)

	p, err := workerpool.NewWithConfig(workerpool.Config{WorkerCount: 1, Throttle: tb})
	testutil.AssertNoError(t, err)
	defer func() { <-p.Close() }()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	_, err = p.Map(ctx, []any{1}, work.Func("square"))
	testutil.AssertErrorIs(t, err, mperrors.ErrRateLimited)
	testutil.AssertEqual(t, p.Stats().Submitted, int64(0))
}

// TestSchedulerToPriorityQueue fires repeating submissions at a priority
// queue sharing a pool with direct maps.
func TestSchedulerToPriorityQueue(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := metrics.Config{Enabled: true, Registry: reg}

	p, err := workerpool.NewWithConfig(workerpool.Config{Name: "shared", WorkerCount: 2, Metrics: mc})
	testutil.AssertNoError(t, err)
	q, err := priority.NewWithConfig(priority.Config{Name: "shared-q", Pool: p, WorkerCount: 1, Metrics: mc})
	testutil.AssertNoError(t, err)

	s, err := scheduler.NewWithConfig(scheduler.Config{
		Name:         "integration",
		Submitter:    scheduler.QueueSubmitter(q),
		TickInterval: 5 * time.Millisecond,
		Metrics:      mc,
	})
	testutil.AssertNoError(t, err)

	var fired int32
	results := make(chan []any, 16)
	err = s.ScheduleRepeating("squares", scheduler.Submission{
		Items:    []any{3},
		Work:     work.Func("square"),
		Priority: 5,
		OnDone: func(_ string, res []any, err error) {
			if err != nil {
				// Stop cancels the wait of a firing still in flight.
				if !stderrors.Is(err, context.Canceled) {
					t.Errorf("scheduled submission failed: %v", err)
				}
				return
			}
			atomic.AddInt32(&fired, 1)
			select {
			case results <- res:
			default:
			}
		},
	}, 10*time.Millisecond)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Start())

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	direct, err := p.Map(ctx, []any{1, 2}, work.Func("square"))
	testutil.AssertNoError(t, err)
	testutil.AssertDeepEqual(t, direct, []any{1.0, 4.0})

	testutil.WaitForInt32(t, &fired, 3, 5*time.Second)
	<-s.Stop()

	testutil.AssertDeepEqual(t, <-results, []any{9.0})

	// Every component reports to the same registerer.
	m := metrics.Resolve(mc)
	if got := promtestutil.ToFloat64(m.TasksExecuted.WithLabelValues("integration")); got < 3 {
		t.Errorf("tasks executed = %v, want at least 3", got)
	}
	if got := promtestutil.ToFloat64(m.PriorityDispatched.WithLabelValues("shared-q")); got < 3 {
		t.Errorf("priority dispatched = %v, want at least 3", got)
	}
	if got := promtestutil.ToFloat64(m.JobsSubmitted.WithLabelValues("shared")); got < 4 {
		t.Errorf("pool jobs = %v, want at least 4", got)
	}

	<-q.Close()
	<-p.Close()
}

// TestSchedulerRetriesTimeouts checks that timed out submissions are
// retried and that the pool replaces the stuck worker each time.
func TestSchedulerRetriesTimeouts(t *testing.T) {
	p, err := workerpool.NewWithConfig(workerpool.Config{WorkerCount: 1})
	testutil.AssertNoError(t, err)
	defer func() { <-p.Terminate() }()

	var calls int32
	sub := scheduler.SubmitterFunc(func(ctx context.Context, s scheduler.Submission) ([]any, error) {
		atomic.AddInt32(&calls, 1)
		return p.Map(ctx, s.Items, s.Work, s.Options...)
	})
	s, err := scheduler.NewWithConfig(scheduler.Config{Submitter: sub, TickInterval: 5 * time.Millisecond})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Start())

	done := make(chan error, 1)
	err = s.ScheduleAfter("stuck", scheduler.Submission{
		Items:      []any{1000},
		Work:       work.Func("nap"),
		Options:    []workerpool.Option{workerpool.WithTimeout(20 * time.Millisecond)},
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnDone:     func(_ string, _ []any, err error) { done <- err },
	}, 0)
	testutil.AssertNoError(t, err)

	select {
	case err := <-done:
		testutil.AssertErrorIs(t, err, mperrors.ErrTimeout)
	case <-time.After(10 * time.Second):
		t.Fatal("scheduled submission never finished")
	}
	<-s.Stop()

	testutil.AssertEqual(t, atomic.LoadInt32(&calls), int32(3))
	testutil.AssertEqual(t, p.Stats().Restarts, int64(3))
}

// TestFailingWorkDoesNotStallQueue verifies that failed tasks release
// their slot so later tasks still run.
func TestFailingWorkDoesNotStallQueue(t *testing.T) {
	q, err := priority.New(1)
	testutil.AssertNoError(t, err)
	defer func() { <-q.Close() }()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	fails := make([]*workerpool.Future[any], 3)
	for i := range fails {
		fails[i] = q.Submit(i, 1, work.Func("fail"))
	}
	ok := q.Submit(7, 0, work.Func("square"))

	for _, f := range fails {
		_, err := f.Wait(ctx)
		var werr *mperrors.WorkerError
		if !stderrors.As(err, &werr) || werr.Message != errFlaky.Error() {
			t.Errorf("expected worker error %q, got %v", errFlaky, err)
		}
	}
	v, err := ok.Wait(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, v, any(49.0))
}
