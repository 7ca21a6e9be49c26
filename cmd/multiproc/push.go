package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/multiproc/pkg/scheduling/priority"
	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
)

// pushTask is one line of push input.
type pushTask struct {
	Value    any     `json:"value"`
	Priority float64 `json:"priority"`
}

// pushResult is printed in completion order.
type pushResult struct {
	Value    any     `json:"value"`
	Priority float64 `json:"priority"`
	Result   any     `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func newPushCmd(o *rootOptions) *cobra.Command {
	var (
		wf    workFlags
		slots int
	)

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Run single items in priority order",
		Long: `Push reads a JSON array of {"value": ..., "priority": ...} objects and runs
each value as its own task. While every slot is busy, waiting tasks are
started highest priority first. Results are printed in completion order.`,
		Example: `  echo '[{"value":30,"priority":1},{"value":5,"priority":9}]' | multiproc push -f fib -i -`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if wf.input == "" {
				return fmt.Errorf("--input is required")
			}
			var tasks []pushTask
			if err := readJSON(cmd, wf.input, &tasks); err != nil {
				return err
			}

			a, err := o.start(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			q, err := priority.NewWithConfig(priority.Config{
				Name:        "push",
				WorkerCount: slots,
				PoolConfig:  a.poolConfig("push"),
				Logger:      a.logger,
				Metrics:     a.metrics,
			})
			if err != nil {
				return err
			}

			// onResult runs as each result is merged, so order is the
			// completion order.
			var (
				mu    sync.Mutex
				order []int
			)
			futures := make([]*workerpool.Future[any], len(tasks))
			for i, t := range tasks {
				opts := append(wf.options(cmd), workerpool.WithOnResult(func(any, int) {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
				}))
				futures[i] = q.Submit(t.Value, t.Priority, wf.work(), opts...)
			}

			results := make([]pushResult, len(tasks))
			var failures []pushResult
			for i, f := range futures {
				v, err := f.Wait(cmd.Context())
				if cmd.Context().Err() != nil {
					<-q.Terminate()
					return cmd.Context().Err()
				}
				results[i] = pushResult{Value: tasks[i].Value, Priority: tasks[i].Priority, Result: v}
				if err != nil {
					results[i].Error = err.Error()
					failures = append(failures, results[i])
				}
			}
			<-q.Close()

			mu.Lock()
			done := make([]pushResult, 0, len(tasks))
			for _, i := range order {
				done = append(done, results[i])
			}
			mu.Unlock()
			done = append(done, failures...)

			if err := writeJSON(cmd.OutOrStdout(), done); err != nil {
				return err
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d of %d tasks failed", len(failures), len(tasks))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&wf.fn, "func", "f", "identity", "registered function to run")
	cmd.Flags().StringVarP(&wf.module, "module", "m", "", "registered module to run (overrides --func)")
	cmd.Flags().DurationVar(&wf.timeout, "timeout", 0, "per-task timeout; 0 disables")
	cmd.Flags().StringVarP(&wf.input, "input", "i", "", "JSON array of tasks (- for stdin)")
	cmd.Flags().IntVar(&slots, "slots", 0, "tasks allowed to run at once (default: one per worker)")
	return cmd
}
