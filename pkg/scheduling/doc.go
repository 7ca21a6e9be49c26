/*
Package scheduling groups the components that decide where and when work
runs.

  - workerpool: a pool of worker processes that chunks jobs and reassembles
    ordered results
  - priority: priority-ordered admission in front of a pool
  - scheduler: time-based and cron firing of pool submissions

Worker Pool:

	pool, err := workerpool.New(4)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { <-pool.Close() }()

	out, err := pool.Map(ctx, items, work.Func("resize"))

Priority Queue:

	q, err := priority.New(4)
	v, err := q.Push(ctx, img, 10, work.Func("resize"))

Scheduler:

	s, err := scheduler.New(scheduler.PoolSubmitter(pool))
	_ = s.ScheduleCron("hourly", "@hourly", scheduler.Submission{
		Items: items,
		Work:  work.Func("resize"),
	})
	_ = s.Start()

All components are safe for concurrent use.
*/
package scheduling
