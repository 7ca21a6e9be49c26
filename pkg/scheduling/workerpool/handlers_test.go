package workerpool

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/vnykmshr/multiproc/pkg/work"
)

func init() {
	work.Register("double", work.Typed(func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	}))
	work.Register("identity", work.Typed(func(_ context.Context, v any) (any, error) {
		return v, nil
	}))
	work.Register("failOn2", work.Typed(func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("test error")
		}
		return n, nil
	}))
	work.Register("hangOn2", work.Typed(func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			select {
			case <-time.After(time.Minute):
			case <-ctx.Done():
			}
		}
		return n, nil
	}))
	work.Register("slow", work.Typed(func(ctx context.Context, n int) (int, error) {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
		}
		return n, nil
	}))
	work.Register("crash", work.Typed(func(_ context.Context, n int) (int, error) {
		if n == 2 {
			os.Exit(3)
		}
		return n, nil
	}))
	work.RegisterModule("greeter", work.Typed(func(_ context.Context, name string) (string, error) {
		return "Hello, " + name + "!", nil
	}))
}
