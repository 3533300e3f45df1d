package kernel

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// DefaultContextKey is the execution-context key used by PerThread
// components when the caller supplies none.
const DefaultContextKey = "default"

// DefaultActivationTimeout bounds how long a Resolve waits for another
// activation that is already building the same instance.
const DefaultActivationTimeout = 30 * time.Second

// ── Activation context ────────────────────────────────────────────────────────

// Context is the per-Resolve activation state: explicit overrides, the
// execution-context key and the stack of handlers currently being resolved.
// It lives for a single top-level Resolve call and its nested resolutions.
type Context struct {
	id    string
	ctx   context.Context
	key   string
	named map[string]any
	typed map[ServiceType]any
	stack []*Handler
	wait  time.Duration
}

// ResolveOption customises one Resolve call.
type ResolveOption func(*Context)

// WithOverride supplies a value for any dependency whose key is name.
//
//	k.Resolve("mailer", kernel.WithOverride("host", "smtp.test"))
func WithOverride(name string, value any) ResolveOption {
	return func(c *Context) { c.named[name] = value }
}

// WithTypedOverride supplies a value for any dependency requiring t.
func WithTypedOverride(t ServiceType, value any) ResolveOption {
	return func(c *Context) { c.typed[t] = value }
}

// WithOverrides supplies several named overrides at once.
func WithOverrides(values map[string]any) ResolveOption {
	return func(c *Context) { maps.Copy(c.named, values) }
}

// WithContextKey sets the execution-context key PerThread components are
// cached under.
func WithContextKey(key string) ResolveOption {
	return func(c *Context) { c.key = key }
}

// WithContext attaches a context.Context, used for tracing and for bounding
// blocking pool acquisition.
func WithContext(ctx context.Context) ResolveOption {
	return func(c *Context) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

func newContext(wait time.Duration, opts ...ResolveOption) *Context {
	c := &Context{
		id:    uuid.NewString(),
		ctx:   context.Background(),
		key:   DefaultContextKey,
		named: make(map[string]any),
		typed: make(map[ServiceType]any),
		wait:  wait,
	}
	for _, opt := range opts {
		opt(c)
	}
	if outer, ok := c.ctx.Value(activationKey{}).(*Context); ok {
		c.stack = append([]*Handler(nil), outer.stack...)
	}
	return c
}

type activationKey struct{}

// withActivation records c in ctx so that a Resolve started from inside a
// factory with WithContext(a.Context()) inherits the cycle guard.
func withActivation(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, activationKey{}, c)
}

// ID uniquely identifies the activation.
func (c *Context) ID() string { return c.id }

// Context returns the attached context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// Key returns the execution-context key.
func (c *Context) Key() string { return c.key }

// Resolving returns the names of the handlers on the current resolution
// path, outermost first.
func (c *Context) Resolving() []string {
	names := make([]string, len(c.stack))
	for i, h := range c.stack {
		names[i] = h.Name()
	}
	return names
}

func (c *Context) activationTimeout() time.Duration {
	if c.wait > 0 {
		return c.wait
	}
	return DefaultActivationTimeout
}

// waitingFor names the handler whose instance this activation is acquiring.
func (c *Context) waitingFor() string {
	if len(c.stack) == 0 {
		return ""
	}
	return c.stack[len(c.stack)-1].Name()
}

func (c *Context) override(dep DependencyModel) (any, bool) {
	if dep.TargetName != "" {
		if v, ok := c.named[dep.TargetName]; ok {
			return v, true
		}
	}
	if dep.RequiredType != "" {
		if v, ok := c.typed[dep.RequiredType]; ok {
			return v, true
		}
	}
	return nil, false
}

// cycleThrough returns the resolution path starting at h if h is already
// being resolved.
func (c *Context) cycleThrough(h *Handler) ([]string, bool) {
	for i, s := range c.stack {
		if s == h {
			names := make([]string, 0, len(c.stack)-i)
			for _, m := range c.stack[i:] {
				names = append(names, m.Name())
			}
			return names, true
		}
	}
	return nil, false
}

func (c *Context) push(h *Handler) { c.stack = append(c.stack, h) }
func (c *Context) pop()            { c.stack = c.stack[:len(c.stack)-1] }

// ── Activation ────────────────────────────────────────────────────────────────

// Activation is what a Factory receives: the resolved dependencies of the
// component being built plus access to nested resolution on the same
// activation context.
type Activation struct {
	descriptor *ComponentDescriptor
	args       map[string]any
	ctx        *Context
	kernel     *Kernel
}

// Name returns the name of the component being activated.
func (a *Activation) Name() string { return a.descriptor.Name }

// Descriptor returns the descriptor of the component being activated.
func (a *Activation) Descriptor() *ComponentDescriptor { return a.descriptor }

// Context returns the context.Context of the activation. A factory that
// closes over the kernel must pass it to Kernel.Resolve via WithContext (or
// call a.Resolve instead); otherwise resolving its own component is only
// caught once the activation timeout expires.
func (a *Activation) Context() context.Context { return a.ctx.Context() }

// ContextKey returns the execution-context key of the activation.
func (a *Activation) ContextKey() string { return a.ctx.Key() }

// Kernel returns the kernel performing the activation. Components that
// inspect the registry (rather than resolve from it) keep this reference.
func (a *Activation) Kernel() *Kernel { return a.kernel }

// Arg returns the resolved dependency stored under key. Optional
// dependencies that resolved to nothing are absent.
func (a *Activation) Arg(key string) (any, bool) {
	v, ok := a.args[key]
	return v, ok
}

// Args returns a copy of every resolved dependency.
func (a *Activation) Args() map[string]any {
	return maps.Clone(a.args)
}

// Resolve performs a nested resolution that shares this activation's
// overrides and cycle guard.
func (a *Activation) Resolve(key string) (any, error) {
	return a.kernel.resolve(key, a.ctx)
}

// Arg returns the dependency stored under key as T.
//
//	repo, err := kernel.Arg[UserRepository](a, "repo")
func Arg[T any](a *Activation, key string) (T, error) {
	var zero T
	v, ok := a.args[key]
	if !ok {
		return zero, fmt.Errorf("argument %q not resolved", key)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("argument %q is %T, not %T", key, v, zero)
	}
	return typed, nil
}

// OptionalArg is like Arg but reports absence or a type mismatch as false.
func OptionalArg[T any](a *Activation, key string) (T, bool) {
	v, err := Arg[T](a, key)
	return v, err == nil
}
