package benchmark

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/multiproc/pkg/admission"
	"github.com/vnykmshr/multiproc/pkg/scheduling/priority"
	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
	"github.com/vnykmshr/multiproc/pkg/work"
)

func items(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func newPool(b *testing.B, cfg workerpool.Config) *workerpool.Pool {
	b.Helper()
	p, err := workerpool.NewWithConfig(cfg)
	if err != nil {
		b.Fatalf("failed to create pool: %v", err)
	}
	b.Cleanup(func() { <-p.Terminate() })
	return p
}

// BenchmarkChunkSize maps 1000 items with different chunk sizes. Zero
// spreads the job evenly across the workers.
func BenchmarkChunkSize(b *testing.B) {
	in := items(1000)
	for _, size := range []int{1, 10, 100, 0} {
		b.Run(fmt.Sprintf("chunk=%d", size), func(b *testing.B) {
			p := newPool(b, workerpool.Config{WorkerCount: 4})
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := workerpool.MapAs[float64](ctx, p, in, work.Func("noop"), workerpool.WithChunkSize(size)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkWorkers scales CPU-bound work across worker counts.
func BenchmarkWorkers(b *testing.B) {
	in := items(256)
	for _, workers := range []int{1, 2, 4, 8} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			p := newPool(b, workerpool.Config{WorkerCount: workers})
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := p.Map(ctx, anyItems(in), work.Func("spin")); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkPerItemTimeout measures the cost of per-item reporting.
func BenchmarkPerItemTimeout(b *testing.B) {
	in := anyItems(items(1000))
	for _, timeout := range []time.Duration{0, time.Minute} {
		b.Run(fmt.Sprintf("timeout=%v", timeout), func(b *testing.B) {
			p := newPool(b, workerpool.Config{WorkerCount: 4})
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := p.Map(ctx, in, work.Func("noop"), workerpool.WithTimeout(timeout)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkThrottle measures admission through an unlimited bucket.
func BenchmarkThrottle(b *testing.B) {
	tb, err := admission.NewTokenBucket(admission.Inf, 1000)
	if err != nil {
		b.Fatal(err)
	}
	p := newPool(b, workerpool.Config{WorkerCount: 4, Throttle: tb})
	in := anyItems(items(100))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Map(ctx, in, work.Func("noop")); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkApplyVsPriority compares single-item submission straight to a
// pool with submission through a priority queue.
func BenchmarkApplyVsPriority(b *testing.B) {
	const batch = 100

	b.Run("pool", func(b *testing.B) {
		p := newPool(b, workerpool.Config{WorkerCount: 4})
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			futures := make([]*workerpool.Future[any], batch)
			for j := range futures {
				futures[j] = p.ApplyAsync(j, work.Func("noop"))
			}
			waitAll(b, futures)
		}
	})

	b.Run("priority", func(b *testing.B) {
		q, err := priority.New(4)
		if err != nil {
			b.Fatal(err)
		}
		b.Cleanup(func() { <-q.Terminate() })

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			futures := make([]*workerpool.Future[any], batch)
			for j := range futures {
				futures[j] = q.Submit(j, float64(j%10), work.Func("noop"))
			}
			waitAll(b, futures)
		}
	})
}

// BenchmarkConcurrentMaps runs many small jobs at once.
func BenchmarkConcurrentMaps(b *testing.B) {
	p := newPool(b, workerpool.Config{WorkerCount: 4})
	in := anyItems(items(10))
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := p.Map(ctx, in, work.Func("noop")); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func waitAll(b *testing.B, futures []*workerpool.Future[any]) {
	b.Helper()
	var wg sync.WaitGroup
	for _, f := range futures {
		wg.Add(1)
		go func(f *workerpool.Future[any]) {
			defer wg.Done()
			if _, err := f.Wait(context.Background()); err != nil {
				b.Error(err)
			}
		}(f)
	}
	wg.Wait()
}

func anyItems(in []int) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
