/*
Package scheduler fires pool submissions at a time, on an interval or on a
cron schedule.

A Submitter decides where fired work runs. PoolSubmitter maps it over a
workerpool.Pool; QueueSubmitter pushes each item to a priority.Queue:

	pool, _ := workerpool.New(4)
	s, _ := scheduler.New(scheduler.PoolSubmitter(pool))
	_ = s.Start()
	defer func() { <-s.Stop() }()

	_ = s.ScheduleCron("nightly-rollup", "0 0 2 * * *", scheduler.Submission{
		Items: shards,
		Work:  work.Func("rollup"),
		OnDone: func(id string, results []any, err error) {
			log.Printf("%s: %d results, err=%v", id, len(results), err)
		},
	})

Cron expressions take five fields, or six with a leading seconds field,
and descriptors such as "@hourly". They are evaluated in Config.Location.

Failed firings whose error is retryable (timeouts, worker exits, throttle
refusals) are resubmitted up to Submission.MaxRetries times with
exponential backoff.
*/
package scheduler
