package worker

import (
	"context"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vnykmshr/multiproc/pkg/work"
)

const (
	// EnvMarker is set to "1" in the environment of every worker process.
	EnvMarker = "MULTIPROC_WORKER"

	// EnvWorkerID carries the slot number of the worker, for logging.
	EnvWorkerID = "MULTIPROC_WORKER_ID"

	// EnvLogLevel sets the level of the worker's stderr logger.
	EnvLogLevel = "MULTIPROC_WORKER_LOG_LEVEL"
)

// IsChild reports whether this process was started as a pool worker.
func IsChild() bool {
	return os.Getenv(EnvMarker) == "1"
}

// Env returns the environment entries that make a process start as worker id.
func Env(id int) []string {
	return []string{EnvMarker + "=1", EnvWorkerID + "=" + strconv.Itoa(id)}
}

// Main serves the worker protocol on stdin and stdout and exits when the
// process is a pool worker. Otherwise it returns immediately.
func Main() {
	if !IsChild() {
		return
	}
	os.Exit(run())
}

func run() int {
	out := os.Stdout
	os.Stdout = os.Stderr

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	s := &Server{Registry: work.DefaultRegistry, Logger: logger}
	if err := s.Serve(context.Background(), os.Stdin, out); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger() *zap.Logger {
	level := zapcore.WarnLevel
	if lv := os.Getenv(EnvLogLevel); lv != "" {
		if parsed, err := zapcore.ParseLevel(lv); err == nil {
			level = parsed
		}
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stderr), level)

	return zap.New(core).With(
		zap.String("worker", os.Getenv(EnvWorkerID)),
		zap.Int("pid", os.Getpid()),
	)
}
