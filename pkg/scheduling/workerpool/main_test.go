package workerpool

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/vnykmshr/multiproc/pkg/worker"
)

// TestMain turns the test binary into a worker when a pool spawns it and
// enables goroutine leak detection otherwise.
func TestMain(m *testing.M) {
	worker.Main()
	goleak.VerifyTestMain(m)
}
