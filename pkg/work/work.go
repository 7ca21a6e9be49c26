// Package work describes what a worker process runs for a job.
//
// A Work value is either a module path or the key of a function registered
// in the worker binary. The controller never interprets it; it only ships
// the reference to every worker, which resolves it against its Registry.
//
// Handlers are registered at init time in the binary that serves as the
// worker (by default the program itself):
//
//	func init() {
//		work.Register("double", work.Typed(func(_ context.Context, n int) (int, error) {
//			return n * 2, nil
//		}))
//	}
//
//	res, err := pool.Map(ctx, items, work.Func("double"))
package work

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/wire"
)

// Kind distinguishes the two Work variants.
type Kind int

const (
	// KindNone is the zero Work, which is never valid.
	KindNone Kind = iota
	// KindModule loads work by path.
	KindModule
	// KindFunc looks work up by registry key.
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindModule:
		return "module"
	case KindFunc:
		return "func"
	default:
		return "none"
	}
}

// Work references the code a job runs.
type Work struct {
	kind Kind
	name string
}

// Module references work loaded by path.
func Module(path string) Work {
	return Work{kind: KindModule, name: path}
}

// Func references a handler registered under key.
func Func(key string) Work {
	return Work{kind: KindFunc, name: key}
}

// Kind returns the variant of w.
func (w Work) Kind() Kind { return w.kind }

// Name returns the module path or function key.
func (w Work) Name() string { return w.name }

// Valid reports whether w names something a worker could resolve.
func (w Work) Valid() bool {
	return w.kind != KindNone && w.name != ""
}

func (w Work) String() string {
	return w.kind.String() + ":" + w.name
}

// Validate returns ErrInvalidWork unless w is valid.
func (w Work) Validate() error {
	if !w.Valid() {
		return fmt.Errorf("%w: got %s", mperrors.ErrInvalidWork, w)
	}
	return nil
}

// Request fills the descriptor fields of a register request.
func (w Work) Request(jobID int64, perItem bool) wire.Request {
	req := wire.Request{JobID: jobID, PerItem: perItem}
	if w.kind == KindModule {
		req.ModulePath = w.name
	} else {
		req.FnSource = w.name
	}
	return req
}

// FromRequest recovers the Work carried by a register request.
func FromRequest(req *wire.Request) Work {
	if req.ModulePath != "" {
		return Module(req.ModulePath)
	}
	if req.FnSource != "" {
		return Func(req.FnSource)
	}
	return Work{}
}

// Handler processes one encoded item and returns a value to be encoded as
// its result.
type Handler func(ctx context.Context, item json.RawMessage) (any, error)

// Typed adapts a function over decoded values into a Handler.
func Typed[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Handler {
	return func(ctx context.Context, item json.RawMessage) (any, error) {
		in, err := wire.DecodeAs[In](item)
		if err != nil {
			return nil, fmt.Errorf("decoding input: %w", err)
		}
		return fn(ctx, in)
	}
}

// Registry maps work references to handlers inside a worker process.
type Registry struct {
	mu      sync.RWMutex
	funcs   map[string]Handler
	modules map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:   make(map[string]Handler),
		modules: make(map[string]Handler),
	}
}

// DefaultRegistry is served by worker.Main.
var DefaultRegistry = NewRegistry()

// Register adds a function handler to DefaultRegistry.
func Register(key string, h Handler) {
	DefaultRegistry.Register(key, h)
}

// RegisterModule adds a module handler to DefaultRegistry.
func RegisterModule(path string, h Handler) {
	DefaultRegistry.RegisterModule(path, h)
}

// Register adds a function handler. It panics if key is empty, h is nil or
// key is already registered.
func (r *Registry) Register(key string, h Handler) {
	r.add(r.funcs, "function", key, h)
}

// RegisterModule adds a module handler with the same rules as Register.
func (r *Registry) RegisterModule(path string, h Handler) {
	r.add(r.modules, "module", path, h)
}

func (r *Registry) add(m map[string]Handler, what, name string, h Handler) {
	if name == "" {
		panic("work: register " + what + " with empty name")
	}
	if h == nil {
		panic("work: register " + what + " " + name + " with nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := m[name]; dup {
		panic("work: " + what + " " + name + " registered twice")
	}
	m[name] = h
}

// Resolve returns the handler for w.
func (r *Registry) Resolve(w Work) (Handler, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var h Handler
	if w.kind == KindModule {
		h = r.modules[w.name]
	} else {
		h = r.funcs[w.name]
	}
	if h == nil {
		return nil, fmt.Errorf("cannot find %s %q", w.kind, w.name)
	}
	return h, nil
}

// Names lists registered references, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs)+len(r.modules))
	for k := range r.funcs {
		names = append(names, Func(k).String())
	}
	for k := range r.modules {
		names = append(names, Module(k).String())
	}
	sort.Strings(names)
	return names
}

// Call runs h on item, converting a panic into a *errors.WorkerError that
// carries the stack.
func Call(ctx context.Context, h Handler, item json.RawMessage) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &mperrors.WorkerError{
				Message: fmt.Sprint(r),
				Stack:   string(debug.Stack()),
			}
		}
	}()
	return h(ctx, item)
}
