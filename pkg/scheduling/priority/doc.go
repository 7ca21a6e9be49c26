/*
Package priority adds priority-ordered admission in front of a worker pool.

A Queue holds one slot per worker. A pushed task that finds a free slot
goes straight to the pool as a single-item job. Tasks pushed while every
slot is taken wait in a max-heap and are released highest priority first
as slots free up:

	q, err := priority.New(4)
	if err != nil {
		log.Fatal(err)
	}
	defer q.Terminate()

	v, err := q.Push(ctx, input, 10, work.Func("render"))

Ordering only applies among waiting tasks. A low-priority task pushed to
an idle queue starts at once, and tasks with equal priority are released
in no particular order.
*/
package priority
