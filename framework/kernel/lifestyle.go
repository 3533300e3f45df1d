package kernel

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// ComponentActivator builds and tears down instances of one component. The
// Handler is the activator handed to its LifestyleManager.
type ComponentActivator interface {
	// Create resolves dependencies, runs the factory, applies the proxy and
	// commissions the instance.
	Create(ctx *Context) (any, error)

	// Destroy decommissions the instance.
	Destroy(instance any) error
}

// LifestyleManager owns the caching policy of one handler.
type LifestyleManager interface {
	// Init is called once, before any Acquire.
	Init(activator ComponentActivator, d *ComponentDescriptor)

	// Acquire returns an instance, creating one through the activator when
	// nothing suitable is cached.
	Acquire(ctx *Context) (any, error)

	// Release hands an instance back. It reports whether the manager took
	// it back; the error is any decommission failure.
	Release(instance any) (bool, error)

	// Dispose decommissions every instance the manager still holds.
	Dispose() error
}

func newLifestyleManager(d *ComponentDescriptor) LifestyleManager {
	switch d.Lifestyle {
	case Transient:
		return &transientLifestyle{}
	case PerThread:
		return &perThreadLifestyle{}
	case Pooled:
		return &pooledLifestyle{}
	case Custom:
		return d.CustomLifestyle()
	default:
		return &singletonLifestyle{}
	}
}

// Resetter is implemented by lifestyle managers that can drop their cached
// instances and stay usable. Remove resets the lifestyles of every
// component that was bound to the removed one, so their next Acquire
// rebuilds against whatever satisfies the dependency now.
type Resetter interface {
	Reset() error
}

// trackable reports whether v can be used as a map key.
func trackable(v any) bool {
	return reflect.ValueOf(v).Comparable()
}

// ── instance cell ─────────────────────────────────────────────────────────────

// instanceCell holds at most one lazily created instance. The first caller
// builds it outside the lock; concurrent callers wait for that build, so the
// instance is constructed exactly once. The wait is bounded by the caller's
// context and the activation timeout, which turns a factory that resolves
// its own component through a fresh activation into a CircularDependency
// instead of a hang.
type instanceCell struct {
	mu       sync.Mutex
	instance any
	created  bool
	closed   bool
	building *construction
}

type construction struct {
	done chan struct{}
	err  error
}

func (c *instanceCell) get(ctx *Context, activator ComponentActivator) (any, error) {
	c.mu.Lock()
	for c.building != nil && !c.closed && !c.created {
		b := c.building
		c.mu.Unlock()
		if err := b.wait(ctx); err != nil {
			return nil, err
		}
		if b.err != nil {
			return nil, b.err
		}
		c.mu.Lock()
	}
	if c.closed {
		c.mu.Unlock()
		return nil, errKernelDisposed()
	}
	if c.created {
		inst := c.instance
		c.mu.Unlock()
		return inst, nil
	}
	b := &construction{done: make(chan struct{})}
	c.building = b
	c.mu.Unlock()

	inst, err := activator.Create(ctx)

	c.mu.Lock()
	c.building = nil
	b.err = err
	close(b.done)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.closed {
		c.mu.Unlock()
		_ = activator.Destroy(inst)
		return nil, errKernelDisposed()
	}
	c.instance = inst
	c.created = true
	c.mu.Unlock()
	return inst, nil
}

func (b *construction) wait(ctx *Context) error {
	limit := ctx.activationTimeout()
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-b.done:
		return nil
	case <-ctx.Context().Done():
		return fmt.Errorf("wait for construction: %w", ctx.Context().Err())
	case <-timer.C:
		return errConstructionStalled(ctx.waitingFor(), limit)
	}
}

// take empties the cell and returns what it held.
func (c *instanceCell) take() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.created {
		return nil, false
	}
	inst := c.instance
	c.instance = nil
	c.created = false
	return inst, true
}

// close empties the cell for good. A construction still in flight destroys
// its instance when it finishes.
func (c *instanceCell) close() (any, bool) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.take()
}

// ── Singleton ─────────────────────────────────────────────────────────────────

type singletonLifestyle struct {
	activator ComponentActivator
	cell      instanceCell
}

func (l *singletonLifestyle) Init(activator ComponentActivator, _ *ComponentDescriptor) {
	l.activator = activator
}

func (l *singletonLifestyle) Acquire(ctx *Context) (any, error) {
	return l.cell.get(ctx, l.activator)
}

// Release is a no-op; the instance lives until Dispose.
func (l *singletonLifestyle) Release(any) (bool, error) { return false, nil }

func (l *singletonLifestyle) Reset() error {
	if inst, ok := l.cell.take(); ok {
		return l.activator.Destroy(inst)
	}
	return nil
}

func (l *singletonLifestyle) Dispose() error {
	if inst, ok := l.cell.close(); ok {
		return l.activator.Destroy(inst)
	}
	return nil
}

// ── Transient ─────────────────────────────────────────────────────────────────

type transientLifestyle struct {
	activator ComponentActivator
	mu        sync.Mutex
	tracked   map[any]struct{}
	disposed  bool
}

func (l *transientLifestyle) Init(activator ComponentActivator, _ *ComponentDescriptor) {
	l.activator = activator
	l.tracked = make(map[any]struct{})
}

func (l *transientLifestyle) Acquire(ctx *Context) (any, error) {
	l.mu.Lock()
	disposed := l.disposed
	l.mu.Unlock()
	if disposed {
		return nil, errKernelDisposed()
	}

	inst, err := l.activator.Create(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		_ = l.activator.Destroy(inst)
		return nil, errKernelDisposed()
	}
	if trackable(inst) {
		l.tracked[inst] = struct{}{}
	}
	l.mu.Unlock()
	return inst, nil
}

func (l *transientLifestyle) Release(instance any) (bool, error) {
	if !trackable(instance) {
		return false, nil
	}
	l.mu.Lock()
	if _, ok := l.tracked[instance]; !ok {
		l.mu.Unlock()
		return false, nil
	}
	delete(l.tracked, instance)
	l.mu.Unlock()
	return true, l.activator.Destroy(instance)
}

// Reset keeps tracked instances: they belong to their callers until
// Release, and every later Acquire binds afresh anyway.
func (l *transientLifestyle) Reset() error { return nil }

func (l *transientLifestyle) Dispose() error {
	l.mu.Lock()
	l.disposed = true
	pending := make([]any, 0, len(l.tracked))
	for inst := range l.tracked {
		pending = append(pending, inst)
	}
	l.tracked = make(map[any]struct{})
	l.mu.Unlock()

	var errs error
	for _, inst := range pending {
		errs = multierr.Append(errs, l.activator.Destroy(inst))
	}
	return errs
}

// ── PerThread ─────────────────────────────────────────────────────────────────

// perThreadLifestyle caches one instance per execution-context key. Go has
// no usable goroutine identity, so callers pass the key explicitly with
// WithContextKey.
type perThreadLifestyle struct {
	activator ComponentActivator
	mu        sync.Mutex
	cells     map[string]*instanceCell
	order     []string
	disposed  bool
}

func (l *perThreadLifestyle) Init(activator ComponentActivator, _ *ComponentDescriptor) {
	l.activator = activator
	l.cells = make(map[string]*instanceCell)
}

func (l *perThreadLifestyle) Acquire(ctx *Context) (any, error) {
	key := ctx.Key()
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return nil, errKernelDisposed()
	}
	cell, ok := l.cells[key]
	if !ok {
		cell = &instanceCell{}
		l.cells[key] = cell
		l.order = append(l.order, key)
	}
	l.mu.Unlock()
	return cell.get(ctx, l.activator)
}

func (l *perThreadLifestyle) Release(any) (bool, error) { return false, nil }

func (l *perThreadLifestyle) Reset() error { return l.drain(false) }

func (l *perThreadLifestyle) Dispose() error { return l.drain(true) }

// drain decommissions every cached instance. With final set, the cells are
// closed so in-flight constructions are destroyed too and later Acquire
// calls fail.
func (l *perThreadLifestyle) drain(final bool) error {
	l.mu.Lock()
	if final {
		l.disposed = true
	}
	cells := make([]*instanceCell, 0, len(l.order))
	for _, key := range l.order {
		cells = append(cells, l.cells[key])
	}
	l.cells = make(map[string]*instanceCell)
	l.order = nil
	l.mu.Unlock()

	var errs error
	for _, cell := range cells {
		take := cell.take
		if final {
			take = cell.close
		}
		if inst, ok := take(); ok {
			errs = multierr.Append(errs, l.activator.Destroy(inst))
		}
	}
	return errs
}
