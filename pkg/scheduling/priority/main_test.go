package priority

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/vnykmshr/multiproc/pkg/work"
	"github.com/vnykmshr/multiproc/pkg/worker"
)

func init() {
	work.Register("slow", work.Typed(func(ctx context.Context, n float64) (float64, error) {
		select {
		case <-time.After(30 * time.Millisecond):
		case <-ctx.Done():
		}
		return n, nil
	}))
	work.Register("fail", work.Typed(func(_ context.Context, n float64) (float64, error) {
		return 0, errTest
	}))
}

func TestMain(m *testing.M) {
	worker.Main()
	goleak.VerifyTestMain(m)
}
