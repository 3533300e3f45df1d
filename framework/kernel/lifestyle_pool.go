package kernel

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// PoolStats is a snapshot of a pooled handler.
type PoolStats struct {
	Free     int `json:"free"`
	Borrowed int `json:"borrowed"`
	Live     int `json:"live"`
	MinSize  int `json:"min_size"`
	MaxSize  int `json:"max_size"`
}

// pooledLifestyle keeps a bounded FIFO free list. Every borrowed instance
// holds one semaphore slot, so live instances never exceed MaxSize.
type pooledLifestyle struct {
	activator ComponentActivator
	name      string
	opts      PoolOptions
	slots     *semaphore.Weighted

	mu       sync.Mutex
	free     []any
	borrowed map[any]struct{}
	stale    map[any]struct{}
	warmed   bool
	disposed bool
}

func (p *pooledLifestyle) Init(activator ComponentActivator, d *ComponentDescriptor) {
	p.activator = activator
	p.name = d.Name
	p.opts = d.Pool
	p.slots = semaphore.NewWeighted(int64(d.Pool.MaxSize))
	p.borrowed = make(map[any]struct{})
	p.stale = make(map[any]struct{})
}

func (p *pooledLifestyle) Acquire(ctx *Context) (any, error) {
	p.mu.Lock()
	disposed := p.disposed
	p.mu.Unlock()
	if disposed {
		return nil, errKernelDisposed()
	}

	if err := p.reserve(ctx.Context()); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		p.slots.Release(1)
		return nil, errKernelDisposed()
	}
	if !p.warmed {
		p.warmed = true
		if err := p.warmLocked(ctx); err != nil {
			p.mu.Unlock()
			p.slots.Release(1)
			return nil, err
		}
	}
	if len(p.free) > 0 {
		inst := p.free[0]
		p.free = p.free[1:]
		p.borrowed[inst] = struct{}{}
		p.mu.Unlock()
		return inst, nil
	}
	p.mu.Unlock()

	inst, err := p.activator.Create(ctx)
	if err != nil {
		p.slots.Release(1)
		return nil, err
	}
	if !trackable(inst) {
		p.slots.Release(1)
		_ = p.activator.Destroy(inst)
		return nil, errActivationFailure(p.name, "pooling", errors.New("pooled instances must be comparable"))
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		p.slots.Release(1)
		_ = p.activator.Destroy(inst)
		return nil, errKernelDisposed()
	}
	p.borrowed[inst] = struct{}{}
	p.mu.Unlock()
	return inst, nil
}

// warmLocked fills the free list up to MinSize on first use.
func (p *pooledLifestyle) warmLocked(ctx *Context) error {
	for len(p.free) < p.opts.MinSize {
		inst, err := p.activator.Create(ctx)
		if err != nil {
			return err
		}
		if !trackable(inst) {
			_ = p.activator.Destroy(inst)
			return errActivationFailure(p.name, "pooling", errors.New("pooled instances must be comparable"))
		}
		p.free = append(p.free, inst)
	}
	return nil
}

func (p *pooledLifestyle) reserve(ctx context.Context) error {
	if p.opts.Policy == PoolFailFast {
		if !p.slots.TryAcquire(1) {
			return errResourceExhausted(p.name, p.opts.MaxSize, nil)
		}
		return nil
	}
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return errResourceExhausted(p.name, p.opts.MaxSize, err)
	}
	return nil
}

func (p *pooledLifestyle) Release(instance any) (bool, error) {
	if !trackable(instance) {
		return false, nil
	}
	p.mu.Lock()
	if _, ok := p.borrowed[instance]; !ok {
		p.mu.Unlock()
		return false, nil
	}
	delete(p.borrowed, instance)
	_, stale := p.stale[instance]
	delete(p.stale, instance)
	if p.disposed || stale {
		p.mu.Unlock()
		p.slots.Release(1)
		return true, p.activator.Destroy(instance)
	}
	p.free = append(p.free, instance)
	p.mu.Unlock()
	p.slots.Release(1)
	return true, nil
}

// Reset decommissions the free list and marks borrowed instances so that
// their Release decommissions them instead of pooling them. The pool warms
// up again on the next Acquire.
func (p *pooledLifestyle) Reset() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	pending := p.free
	p.free = nil
	for inst := range p.borrowed {
		p.stale[inst] = struct{}{}
	}
	p.warmed = false
	p.mu.Unlock()

	var errs error
	for _, inst := range pending {
		errs = multierr.Append(errs, p.activator.Destroy(inst))
	}
	return errs
}

// Dispose decommissions free and borrowed instances alike; a later Release
// of a borrowed instance is then a no-op.
func (p *pooledLifestyle) Dispose() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	pending := append([]any(nil), p.free...)
	for inst := range p.borrowed {
		pending = append(pending, inst)
	}
	p.free = nil
	p.borrowed = make(map[any]struct{})
	p.stale = make(map[any]struct{})
	p.mu.Unlock()

	var errs error
	for _, inst := range pending {
		errs = multierr.Append(errs, p.activator.Destroy(inst))
	}
	return errs
}

// Stats returns a snapshot of the pool.
func (p *pooledLifestyle) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Free:     len(p.free),
		Borrowed: len(p.borrowed),
		Live:     len(p.free) + len(p.borrowed),
		MinSize:  p.opts.MinSize,
		MaxSize:  p.opts.MaxSize,
	}
}
