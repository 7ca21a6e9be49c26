// Package integration checks the scheduling packages working together over
// real worker processes.
package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/vnykmshr/multiproc/pkg/work"
	"github.com/vnykmshr/multiproc/pkg/worker"
)

var errFlaky = errors.New("flaky")

func init() {
	work.Register("square", work.Typed(func(_ context.Context, n float64) (float64, error) {
		return n * n, nil
	}))
	work.Register("nap", work.Typed(func(_ context.Context, ms float64) (float64, error) {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return ms, nil
	}))
	work.Register("fail", work.Typed(func(_ context.Context, _ float64) (float64, error) {
		return 0, errFlaky
	}))
}

func TestMain(m *testing.M) {
	worker.Main()
	goleak.VerifyTestMain(m)
}
