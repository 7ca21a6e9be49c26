package main

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/vnykmshr/multiproc/pkg/worker"
)

func TestMain(m *testing.M) {
	worker.Main()
	goleak.VerifyTestMain(m)
}
