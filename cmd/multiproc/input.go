package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/multiproc/pkg/scheduling/workerpool"
	"github.com/vnykmshr/multiproc/pkg/wire"
	"github.com/vnykmshr/multiproc/pkg/work"
)

// workFlags selects the handler and per-job options.
type workFlags struct {
	fn        string
	module    string
	chunkSize int
	timeout   time.Duration
	input     string
}

func (f *workFlags) register(cmd *cobra.Command, defaultFn string) {
	cmd.Flags().StringVarP(&f.fn, "func", "f", defaultFn, "registered function to run")
	cmd.Flags().StringVarP(&f.module, "module", "m", "", "registered module to run (overrides --func)")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "items per chunk (default: spread evenly across workers)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-item timeout; 0 disables")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "read a JSON array of items from this file (- for stdin)")
}

func (f *workFlags) work() work.Work {
	if f.module != "" {
		return work.Module(f.module)
	}
	return work.Func(f.fn)
}

// options returns the job options for the flags the user set, leaving the
// rest to the pool configuration.
func (f *workFlags) options(cmd *cobra.Command) []workerpool.Option {
	var opts []workerpool.Option
	if cmd.Flags().Changed("chunk-size") {
		opts = append(opts, workerpool.WithChunkSize(f.chunkSize))
	}
	if cmd.Flags().Changed("timeout") {
		opts = append(opts, workerpool.WithTimeout(f.timeout))
	}
	return opts
}

// items reads --input, or parses every argument as a JSON value. Arguments
// that are not valid JSON are taken as strings.
func (f *workFlags) items(cmd *cobra.Command, args []string) ([]any, error) {
	if f.input == "" {
		items := make([]any, len(args))
		for i, arg := range args {
			items[i] = parseArg(arg)
		}
		return items, nil
	}
	if len(args) > 0 {
		return nil, fmt.Errorf("items given both as arguments and with --input")
	}

	var items []any
	if err := readJSON(cmd, f.input, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func readJSON(cmd *cobra.Command, path string, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		r = file
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := wire.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func parseArg(arg string) any {
	var v any
	if err := wire.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
