/*
Package worker is the process side of a pool: it reads requests from the
controller, runs chunks through registered handlers and writes results back.

A pool starts its workers by re-executing a binary with MULTIPROC_WORKER=1
in the environment. That binary must call Main before doing anything else:

	func main() {
		worker.Main() // serves and exits when running as a pool worker
		...
	}

Test binaries do the same from TestMain. While serving, os.Stdout is
redirected to stderr so stray prints from handlers cannot corrupt the
protocol stream.

Each chunk runs on its own goroutine, so one process can hold chunks of
several jobs at once. Items within a chunk run in order. When a job is
deregistered its context is cancelled and an in-flight chunk stops at the
next item boundary.
*/
package worker
