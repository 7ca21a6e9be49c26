package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vnykmshr/multiproc/pkg/wire"
)

// Future is the pending result of a submitted job. It settles exactly
// once; results are decoded on first access.
type Future[T any] struct {
	done       chan struct{}
	settleOnce sync.Once
	decodeOnce sync.Once
	raw        []json.RawMessage
	decode     func([]json.RawMessage) (T, error)
	val        T
	err        error
}

func newFuture[T any](decode func([]json.RawMessage) (T, error)) *Future[T] {
	return &Future[T]{
		done:   make(chan struct{}),
		decode: decode,
	}
}

// NewFuture returns an unsettled Future and the function that settles it.
// Only the first call to the settle function has any effect.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := newFuture[T](nil)
	return f, func(v T, err error) {
		f.settleOnce.Do(func() {
			f.val = v
			f.err = err
			close(f.done)
		})
	}
}

func (f *Future[T]) settleRaw(raw []json.RawMessage, err error) {
	f.settleOnce.Do(func() {
		f.raw = raw
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future settles and returns its value.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	f.decodeOnce.Do(func() {
		if f.err == nil && f.decode != nil {
			f.val, f.err = f.decode(f.raw)
		}
		f.raw = nil
	})
	return f.val, f.err
}

// Wait is Result bounded by ctx.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func decodeAll(raw []json.RawMessage) ([]any, error) {
	out := make([]any, len(raw))
	for i, r := range raw {
		v, err := wire.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("decoding result %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func decodeFirst(raw []json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return wire.Decode(raw[0])
}

func decodeAllAs[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, len(raw))
	for i, r := range raw {
		v, err := wire.DecodeAs[T](r)
		if err != nil {
			return nil, fmt.Errorf("decoding result %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func decodeFirstAs[T any](raw []json.RawMessage) (T, error) {
	if len(raw) == 0 {
		var zero T
		return zero, nil
	}
	return wire.DecodeAs[T](raw[0])
}
