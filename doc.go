/*
Package multiproc runs CPU-bound Go functions across a pool of operating
system processes.

Worker processes are re-executions of the running binary. A program
registers its handlers in init, then calls worker.Main first thing in main
so that worker copies serve the pool protocol instead of running the
program.

Scheduling (pkg/scheduling):
  - workerpool: Process pool with chunked, ordered map and apply
  - priority: Priority admission of single tasks onto a busy pool
  - scheduler: One-shot, interval and cron firing of pool submissions

Admission (pkg/admission):
  - TokenBucket: Paces items entering a pool
  - Slots: Bounds how many tasks run at once
  - RedisTokenBucket: Shares one budget between processes

Support:
  - heap: Max pairing heap
  - work, worker, wire: Handler registry, worker side and wire format
  - metrics: Prometheus instrumentation

Example usage:

	import (
		"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
		"github.com/vnykmshr/multiproc/pkg/work"
		"github.com/vnykmshr/multiproc/pkg/worker"
	)

	func init() {
		work.Register("square", work.Typed(func(_ context.Context, n int) (int, error) {
			return n * n, nil
		}))
	}

	func main() {
		worker.Main()

		pool, _ := workerpool.New(4) // 4 worker processes
		defer func() { <-pool.Close() }()

		squares, _ := workerpool.MapAs[int](ctx, pool, []int{1, 2, 3}, work.Func("square"))
	}
*/
package multiproc
