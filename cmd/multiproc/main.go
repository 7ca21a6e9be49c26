// Command multiproc runs registered handlers across a pool of worker
// processes. The same binary serves as its own worker.
package main

import (
	"github.com/vnykmshr/multiproc/internal/builtin"
	"github.com/vnykmshr/multiproc/pkg/work"
	"github.com/vnykmshr/multiproc/pkg/worker"
)

func init() {
	builtin.Register(work.DefaultRegistry)
}

func main() {
	worker.Main()
	Execute()
}
