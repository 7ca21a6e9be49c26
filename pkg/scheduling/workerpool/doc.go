/*
Package workerpool distributes CPU-bound work across a fixed set of worker
processes.

Each worker is a separate OS process running the same executable (or a
configured Command). Work runs in the worker through a handler registered
with package work, so a crashing or runaway handler never takes the caller
down with it.

Worker side:

The executable must hand control to the worker runtime before doing
anything else:

	func init() {
		work.Register("square", work.Typed(func(_ context.Context, n int) (int, error) {
			return n * n, nil
		}))
	}

	func main() {
		worker.Main() // never returns inside a worker process
		// controller code follows
	}

Basic usage:

	pool, err := workerpool.New(4)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Terminate()

	out, err := pool.Map(ctx, []any{1, 2, 3}, work.Func("square"))
	// out == []any{1.0, 4.0, 9.0}

	n, err := workerpool.ApplyAs[int](ctx, pool, 7, work.Func("square"))

Results come back in input order whatever the order workers finish in.
Values are exchanged as JSON; untyped results decode to float64, string,
bool, []any and map[string]any, and timestamps in the
2006-01-02T15:04:05.000Z layout decode back into time.Time. Use MapAs and
ApplyAs to decode into concrete types.

Chunking:

A job is cut into chunks of WithChunkSize items. By default each job is
spread evenly over the workers. Each worker runs one chunk at a time, and
jobs are served in the order they were submitted.

Timeouts:

WithTimeout bounds how long a worker may take for each item. When it
expires the worker process is killed and replaced, and the job fails with
errors.ErrTimeout. Other jobs are not affected. The window restarts after
every item, so a long chunk of quick items never times out. Use
WithChunkTimeout to bound the chunk as a whole.

Shutdown:

Close refuses new jobs and lets admitted ones finish before the workers
exit. Terminate kills the workers at once and fails every unsettled job
with errors.ErrTerminated. Both return a channel that is closed once all
worker processes have been reaped.

Metrics:

Pools report to Prometheus through package metrics when
Config.Metrics.Enabled is set. Gauges track pool size, ready workers and
queued jobs; counters track jobs, items, chunks and worker restarts.
*/
package workerpool
