package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vnykmshr/multiproc/internal/output"
	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
)

// streamed is one line of map --stream output.
type streamed struct {
	Index int `json:"index"`
	Value any `json:"value"`
}

func newMapCmd(o *rootOptions) *cobra.Command {
	var (
		wf     workFlags
		stream bool
	)

	cmd := &cobra.Command{
		Use:   "map [items...]",
		Short: "Map a handler over items",
		Long: `Map runs the handler over every item on the worker pool and prints the
results as one JSON array in input order.

With --stream each result is printed as soon as it arrives, as a JSON
object holding its index and value.`,
		Example: `  multiproc map -f double 1 2 3
  multiproc map -f fib --chunk-size 2 --timeout 5s 30 31 32 33
  echo '["a","b"]' | multiproc map -m text -i -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := wf.items(cmd, args)
			if err != nil {
				return err
			}

			a, err := o.start(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.newPool("map")
			if err != nil {
				return err
			}
			defer stopPool(cmd.Context(), p)

			opts := wf.options(cmd)
			if !stream {
				results, err := p.Map(cmd.Context(), items, wf.work(), opts...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), results)
			}

			// Results are merged while the pool is locked, so lines are
			// handed to a background writer.
			lines := output.New(cmd.OutOrStdout())
			opts = append(opts, workerpool.WithOnResult(func(v any, index int) {
				if err := lines.Write(streamed{Index: index, Value: v}); err != nil {
					a.logger.Warn("writing result", zap.Error(err))
				}
			}))
			_, err = p.Map(cmd.Context(), items, wf.work(), opts...)
			if cerr := lines.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}

	wf.register(cmd, "identity")
	cmd.Flags().BoolVar(&stream, "stream", false, "print each result as it arrives")
	return cmd
}

func newApplyCmd(o *rootOptions) *cobra.Command {
	var wf workFlags

	cmd := &cobra.Command{
		Use:     "apply <item>",
		Short:   "Run a handler on one item",
		Example: `  multiproc apply -f fib 25`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.start(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.newPool("apply")
			if err != nil {
				return err
			}
			defer stopPool(cmd.Context(), p)

			v, err := p.Apply(cmd.Context(), parseArg(args[0]), wf.work(), wf.options(cmd)...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	}

	cmd.Flags().StringVarP(&wf.fn, "func", "f", "identity", "registered function to run")
	cmd.Flags().StringVarP(&wf.module, "module", "m", "", "registered module to run (overrides --func)")
	cmd.Flags().DurationVar(&wf.timeout, "timeout", 0, "timeout; 0 disables")
	return cmd
}
