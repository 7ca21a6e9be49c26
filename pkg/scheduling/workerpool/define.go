package workerpool

import (
	"context"
	"fmt"

	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
	"github.com/vnykmshr/multiproc/pkg/common/validation"
	"github.com/vnykmshr/multiproc/pkg/work"
)

// reserved names collide with the pool's own operations.
var reserved = map[string]bool{
	"map": true, "apply": true, "define": true, "close": true, "terminate": true,
}

// Defined binds a work reference and options to a name on a pool.
type Defined struct {
	pool *Pool
	name string
	work work.Work
	opts []Option
}

// Define registers name on the pool. It fails if the name is taken.
func (p *Pool) Define(name string, w work.Work, opts ...Option) (*Defined, error) {
	if err := validation.ValidateNotEmpty("workerpool", "name", name); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, taken := p.defined[name]; taken || reserved[name] {
		return nil, fmt.Errorf("%w: %q", mperrors.ErrAlreadyDefined, name)
	}
	d := &Defined{pool: p, name: name, work: w, opts: opts}
	p.defined[name] = d
	return d, nil
}

// Lookup returns the definition registered under name.
func (p *Pool) Lookup(name string) (*Defined, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.defined[name]
	return d, ok
}

// Name returns the name the definition was registered under.
func (d *Defined) Name() string { return d.name }

// Work returns the bound work reference.
func (d *Defined) Work() work.Work { return d.work }

// Map runs the bound work over items.
func (d *Defined) Map(ctx context.Context, items []any, opts ...Option) ([]any, error) {
	return d.pool.Map(ctx, items, d.work, d.options(opts)...)
}

// Apply runs the bound work on one item.
func (d *Defined) Apply(ctx context.Context, item any, opts ...Option) (any, error) {
	return d.pool.Apply(ctx, item, d.work, d.options(opts)...)
}

// Submit is the asynchronous form of Map.
func (d *Defined) Submit(items []any, opts ...Option) *Future[[]any] {
	return d.pool.Submit(items, d.work, d.options(opts)...)
}

// ApplyAsync is the asynchronous form of Apply.
func (d *Defined) ApplyAsync(item any, opts ...Option) *Future[any] {
	return d.pool.ApplyAsync(item, d.work, d.options(opts)...)
}

// options appends call options after the bound ones so they take precedence.
func (d *Defined) options(extra []Option) []Option {
	if len(extra) == 0 {
		return d.opts
	}
	return append(append([]Option(nil), d.opts...), extra...)
}
