package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vnykmshr/multiproc/pkg/scheduling/scheduler"
)

// firing is printed once per run of a scheduled map.
type firing struct {
	Run     int    `json:"run"`
	Results []any  `json:"results,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newScheduleCmd(o *rootOptions) *cobra.Command {
	var (
		wf      workFlags
		every   time.Duration
		cronStr string
		runs    int
		retries int
	)

	cmd := &cobra.Command{
		Use:   "schedule [items...]",
		Short: "Fire a map on an interval or cron schedule",
		Long: `Schedule maps the handler over the items every --every interval or on a
--cron expression (seconds optional, descriptors like @every 10s accepted).
Each run prints one JSON line. It stops after --runs runs, or on interrupt
when --runs is 0.`,
		Example: `  multiproc schedule --every 1s --runs 3 -f double 1 2 3
  multiproc schedule --cron "*/5 * * * * *" -f fib 25`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (every > 0) == (cronStr != "") {
				return fmt.Errorf("exactly one of --every and --cron is required")
			}
			if cronStr != "" {
				if err := scheduler.ValidateCron(cronStr); err != nil {
					return err
				}
			}
			items, err := wf.items(cmd, args)
			if err != nil {
				return err
			}

			a, err := o.start(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.newPool("schedule")
			if err != nil {
				return err
			}
			defer stopPool(cmd.Context(), p)

			s, err := scheduler.NewWithConfig(scheduler.Config{
				Name:      "schedule",
				Submitter: scheduler.PoolSubmitter(p),
				Logger:    a.logger,
				Metrics:   a.metrics,
			})
			if err != nil {
				return err
			}

			fired := make(chan firing, 1)
			sub := scheduler.Submission{
				Items:         items,
				Work:          wf.work(),
				Options:       wf.options(cmd),
				MaxRetries:    retries,
				RetryDelay:    100 * time.Millisecond,
				MaxRetryDelay: 5 * time.Second,
				OnDone: func(_ string, results []any, err error) {
					f := firing{Results: results}
					if err != nil {
						f.Error = err.Error()
					}
					fired <- f
				},
			}

			const id = "cli"
			if cronStr != "" {
				err = s.ScheduleCron(id, cronStr, sub)
			} else {
				err = s.ScheduleRepeating(id, sub, every)
			}
			if err != nil {
				return err
			}
			if err := s.Start(); err != nil {
				return err
			}

			// Stop waits for an in-flight firing, which may still be
			// sending on fired.
			stop := func() {
				s.CancelAll()
				stopped := s.Stop()
				for {
					select {
					case <-stopped:
						return
					case <-fired:
					}
				}
			}

			out := cmd.OutOrStdout()
			for n := 1; runs == 0 || n <= runs; n++ {
				select {
				case f := <-fired:
					f.Run = n
					if f.Error != "" {
						a.logger.Warn("scheduled run failed", zap.Int("run", n), zap.String("error", f.Error))
					}
					if err := writeJSON(out, f); err != nil {
						stop()
						return err
					}
				case <-cmd.Context().Done():
					stop()
					return nil
				}
			}
			stop()
			return nil
		},
	}

	wf.register(cmd, "identity")
	cmd.Flags().DurationVar(&every, "every", 0, "interval between runs")
	cmd.Flags().StringVar(&cronStr, "cron", "", "cron expression")
	cmd.Flags().IntVar(&runs, "runs", 1, "stop after this many runs; 0 runs until interrupted")
	cmd.Flags().IntVar(&retries, "retries", 0, "retry a run that timed out or lost its worker")
	return cmd
}
