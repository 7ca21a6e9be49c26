package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/multiproc/internal/config"
)

// Version is the current release.
const Version = "0.1.0"

// rootOptions holds the global flags.
type rootOptions struct {
	configFile    string
	workers       int
	logLevel      string
	metricsListen string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "multiproc",
		Short: "Run CPU-bound work across worker processes",
		Long: `multiproc distributes items across a pool of worker processes and
collects the results in input order.

Commands:
  map       Map a handler over many items
  apply     Run a handler on one item
  push      Run single items in priority order
  schedule  Fire a map on an interval or cron schedule
  bench     Measure pool throughput and latency
  version   Show version information

Handlers: double, identity, sleep, fib, sum, upper, and the module "text".`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&o.configFile, "config", "", "YAML config file")
	cmd.PersistentFlags().IntVarP(&o.workers, "workers", "w", 0, "number of worker processes (default: one per CPU)")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&o.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newMapCmd(o),
		newApplyCmd(o),
		newPushCmd(o),
		newScheduleCmd(o),
		newBenchCmd(o),
		newVersionCmd(),
	)
	return cmd
}

// load reads the config file and applies flag overrides.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Pool.Workers = o.workers
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = o.metricsListen
	}
	return cfg, cfg.Validate()
}

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "multiproc %s\n", Version)
		},
	}
}
