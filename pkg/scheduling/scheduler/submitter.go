package scheduler

import (
	"context"
	"errors"

	"github.com/vnykmshr/multiproc/pkg/scheduling/priority"
	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
)

// Submitter runs a fired submission and waits for its results.
type Submitter interface {
	Run(ctx context.Context, sub Submission) ([]any, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, sub Submission) ([]any, error)

// Run calls f.
func (f SubmitterFunc) Run(ctx context.Context, sub Submission) ([]any, error) {
	return f(ctx, sub)
}

// PoolSubmitter maps every submission over a pool.
func PoolSubmitter(p *workerpool.Pool) Submitter {
	return SubmitterFunc(func(ctx context.Context, sub Submission) ([]any, error) {
		return p.Map(ctx, sub.Items, sub.Work, sub.Options...)
	})
}

// QueueSubmitter pushes every item of a submission to q at the
// submission's priority and collects the results in item order.
func QueueSubmitter(q *priority.Queue) Submitter {
	return SubmitterFunc(func(ctx context.Context, sub Submission) ([]any, error) {
		futures := make([]*workerpool.Future[any], len(sub.Items))
		for i, item := range sub.Items {
			futures[i] = q.Submit(item, sub.Priority, sub.Work, sub.Options...)
		}

		results := make([]any, len(futures))
		var errs []error
		for i, f := range futures {
			v, err := f.Wait(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			results[i] = v
		}
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return results, nil
	})
}
