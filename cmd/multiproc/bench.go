package main

import (
	"fmt"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/spf13/cobra"

	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
)

// Latencies are recorded in microseconds, up to one minute.
const (
	histMin     = 1
	histMax     = int64(time.Minute / time.Microsecond)
	histSigFigs = 3
)

func newBenchCmd(o *rootOptions) *cobra.Command {
	var (
		wf     workFlags
		items  int
		rounds int
		value  float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure pool throughput and latency",
		Long: `Bench maps the handler over --items items for --rounds rounds on one pool
and reports job latency, per-item latency and throughput. Items are
their index unless --value is set.`,
		Example: `  multiproc bench --items 10000 --rounds 10 -f double
  multiproc bench -w 4 --items 64 -f fib --value 27 --chunk-size 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if items <= 0 || rounds <= 0 {
				return fmt.Errorf("--items and --rounds must be positive")
			}
			input := make([]any, items)
			for i := range input {
				if cmd.Flags().Changed("value") {
					input[i] = value
				} else {
					input[i] = i
				}
			}

			a, err := o.start(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.newPool("bench")
			if err != nil {
				return err
			}
			defer stopPool(cmd.Context(), p)

			jobs := hdrhistogram.New(histMin, histMax, histSigFigs)
			perItem := hdrhistogram.New(histMin, histMax, histSigFigs)

			var (
				mu    sync.Mutex
				start time.Time
			)
			opts := append(wf.options(cmd), workerpool.WithOnResult(func(any, int) {
				mu.Lock()
				_ = perItem.RecordValue(clampMicros(time.Since(start)))
				mu.Unlock()
			}))

			began := time.Now()
			for r := 0; r < rounds; r++ {
				mu.Lock()
				start = time.Now()
				mu.Unlock()

				if _, err := p.Map(cmd.Context(), input, wf.work(), opts...); err != nil {
					return fmt.Errorf("round %d: %w", r+1, err)
				}
				if err := jobs.RecordValue(clampMicros(time.Since(start))); err != nil {
					return err
				}
			}
			elapsed := time.Since(began)

			stats := p.Stats()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "workers\t%d\n", stats.Workers)
			fmt.Fprintf(w, "rounds\t%d x %d items\n", rounds, items)
			fmt.Fprintf(w, "throughput\t%.0f items/s\n", float64(rounds*items)/elapsed.Seconds())
			fmt.Fprintf(w, "restarts\t%d\n", stats.Restarts)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "latency\tmean\tp50\tp90\tp99\tmax")
			printRow(w, "job", jobs)
			printRow(w, "item", perItem)
			return w.Flush()
		},
	}

	wf.register(cmd, "double")
	cmd.Flags().IntVar(&items, "items", 1000, "items per round")
	cmd.Flags().IntVar(&rounds, "rounds", 5, "number of rounds")
	cmd.Flags().Float64Var(&value, "value", 0, "use this value for every item")
	return cmd
}

func printRow(w *tabwriter.Writer, name string, h *hdrhistogram.Histogram) {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	fmt.Fprintf(w, "%s\t%v\t%v\t%v\t%v\t%v\n", name,
		time.Duration(h.Mean()*float64(time.Microsecond)).Round(time.Microsecond),
		us(h.ValueAtQuantile(50)),
		us(h.ValueAtQuantile(90)),
		us(h.ValueAtQuantile(99)),
		us(h.Max()))
}

func clampMicros(d time.Duration) int64 {
	v := d.Microseconds()
	if v < histMin {
		return histMin
	}
	if v > histMax {
		return histMax
	}
	return v
}
