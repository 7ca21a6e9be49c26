// Package builtin registers the handlers the multiproc binary serves to
// its own worker processes.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vnykmshr/multiproc/pkg/work"
)

// Register adds the built-in handlers to reg.
//
//	double    n -> 2n
//	identity  x -> x
//	sleep     ms -> ms, after sleeping that long
//	fib       n -> nth Fibonacci number, computed naively
//	sum       [a, b, ...] -> a + b + ...
//	upper     s -> upper-cased s
//	text      module exposing upper as its default export
func Register(reg *work.Registry) {
	reg.Register("double", work.Typed(double))
	reg.Register("identity", identity)
	reg.Register("sleep", work.Typed(sleep))
	reg.Register("fib", work.Typed(fib))
	reg.Register("sum", work.Typed(sum))
	reg.Register("upper", work.Typed(upper))
	reg.RegisterModule("text", work.Typed(upper))
}

func double(_ context.Context, n float64) (float64, error) {
	return n * 2, nil
}

func identity(_ context.Context, item json.RawMessage) (any, error) {
	return item, nil
}

func sleep(ctx context.Context, ms float64) (float64, error) {
	if ms < 0 {
		return 0, fmt.Errorf("sleep: negative duration %v", ms)
	}
	t := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer t.Stop()
	select {
	case <-t.C:
		return ms, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func fib(_ context.Context, n float64) (float64, error) {
	if n < 0 || n != math.Trunc(n) {
		return 0, fmt.Errorf("fib: want a non-negative integer, got %v", n)
	}
	if n > 92 {
		return 0, fmt.Errorf("fib: %v overflows", n)
	}
	return float64(naiveFib(int(n))), nil
}

func naiveFib(n int) int64 {
	if n < 2 {
		return int64(n)
	}
	return naiveFib(n-1) + naiveFib(n-2)
}

func sum(_ context.Context, xs []float64) (float64, error) {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total, nil
}

func upper(_ context.Context, s string) (string, error) {
	return strings.ToUpper(s), nil
}
