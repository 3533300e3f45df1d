package kernel

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const tracerName = "github.com/km-arc/go-microkernel/framework/kernel"

// maxWaitDepth bounds the walk that explains why a handler is waiting.
const maxWaitDepth = 64

// DefaultPoolOptions apply to pooled components that leave their pool
// options zero and to kernels created without WithPoolDefaults.
var DefaultPoolOptions = PoolOptions{
	MinSize: 0,
	MaxSize: 8,
	Policy:  PoolBlock,
	Timeout: 5 * time.Second,
}

// ── Kernel ────────────────────────────────────────────────────────────────────

// Kernel is the component registry. It owns every Handler, keeps them
// indexed by name and by service in registration order, and promotes
// waiting handlers as soon as their dependencies arrive.
type Kernel struct {
	mu        sync.RWMutex
	byName    map[string]*Handler
	byService map[ServiceType][]*Handler
	handlers  []*Handler // registration order
	waiting   []*Handler
	seq       uint64
	disposed  bool

	parent   *Kernel
	children []*Kernel

	inspectors []Inspector
	loaders    []LazyComponentLoader

	resolver  *dependencyResolver
	converter Converter
	proxy     ProxyFactory
	pool      PoolOptions
	validate  *validator.Validate

	activationTimeout time.Duration

	events *eventHub
	burden *burden

	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the kernel logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(k *Kernel) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithTracer sets the tracer used for resolve and activation spans.
// Defaults to the global OpenTelemetry tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(k *Kernel) {
		if t != nil {
			k.tracer = t
		}
	}
}

// WithConverter sets the collaborator that converts configuration literals.
func WithConverter(c Converter) Option {
	return func(k *Kernel) { k.converter = c }
}

// WithProxyFactory sets the collaborator that wraps freshly built instances.
func WithProxyFactory(p ProxyFactory) Option {
	return func(k *Kernel) { k.proxy = p }
}

// WithPoolDefaults overrides the non-zero fields of DefaultPoolOptions.
func WithPoolDefaults(o PoolOptions) Option {
	return func(k *Kernel) { k.pool = mergePool(k.pool, o, true) }
}

// WithActivationTimeout bounds how long a Resolve waits for an instance
// another activation is still building. Defaults to
// DefaultActivationTimeout.
func WithActivationTimeout(d time.Duration) Option {
	return func(k *Kernel) {
		if d > 0 {
			k.activationTimeout = d
		}
	}
}

// WithInspector appends a lifecycle inspector after the built-in ones.
func WithInspector(i Inspector) Option {
	return func(k *Kernel) { k.inspectors = append(k.inspectors, i) }
}

// New creates an empty kernel.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		byName:     make(map[string]*Handler),
		byService:  make(map[ServiceType][]*Handler),
		inspectors: defaultInspectors(),
		pool:       DefaultPoolOptions,
		validate:   newDescriptorValidator(),

		activationTimeout: DefaultActivationTimeout,
		events:     &eventHub{},
		burden:     newBurden(),
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	k.resolver = &dependencyResolver{kernel: k}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// NewChild creates a kernel whose unresolved dependencies and lookups fall
// back to k. The child inherits k's collaborators unless opts override
// them, and is disposed together with k.
func (k *Kernel) NewChild(opts ...Option) *Kernel {
	inherited := []Option{
		WithLogger(k.logger),
		WithTracer(k.tracer),
		WithConverter(k.converter),
		WithProxyFactory(k.proxy),
		WithPoolDefaults(k.pool),
		WithActivationTimeout(k.activationTimeout),
	}
	child := New(append(inherited, opts...)...)
	child.parent = k

	k.mu.Lock()
	k.children = append(k.children, child)
	k.mu.Unlock()

	k.OnComponentRegistered(func(*Handler) { child.reevaluate() })
	k.OnComponentRemoved(func(*Handler) { child.revalidate() })
	return child
}

// Parent returns the parent kernel, or nil.
func (k *Kernel) Parent() *Kernel { return k.parent }

// AddInspector appends a lifecycle inspector. It affects handlers
// registered afterwards.
func (k *Kernel) AddInspector(i Inspector) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.inspectors = append(k.inspectors, i)
}

// AddLazyLoader appends a loader consulted when Resolve finds nothing.
func (k *Kernel) AddLazyLoader(l LazyComponentLoader) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.loaders = append(k.loaders, l)
}

// ── Registration ──────────────────────────────────────────────────────────────

// Register validates d, builds its Handler and inserts it. Waiting handlers
// are then re-evaluated until none changes state, so one registration can
// promote a whole chain of dependents.
//
//	h, err := k.Register(kernel.ComponentDescriptor{
//	    Name:           "mailer",
//	    Services:       []kernel.ServiceType{kernel.ServiceOf[Mailer]()},
//	    Implementation: kernel.Construct(newSMTPMailer),
//	    Dependencies:   []kernel.DependencyModel{kernel.Param("host", "")},
//	    Parameters:     map[string]string{"host": "smtp.internal"},
//	})
func (k *Kernel) Register(d ComponentDescriptor) (*Handler, error) {
	desc, err := k.prepare(&d)
	if err != nil {
		return nil, err
	}

	k.mu.RLock()
	inspectors := slices.Clone(k.inspectors)
	k.mu.RUnlock()

	h, err := newHandler(k, desc, inspectors)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return nil, errKernelDisposed()
	}
	if _, exists := k.byName[desc.Name]; exists {
		k.mu.Unlock()
		return nil, errNameCollision(desc.Name)
	}
	k.seq++
	h.seq = k.seq
	k.insertLocked(h)
	if missing := k.resolver.unmetLocked(h); len(missing) > 0 {
		h.setState(WaitingDependency, missing)
		k.waiting = append(k.waiting, h)
	} else {
		h.setState(Valid, nil)
	}
	changes := k.reevaluateLocked()
	k.mu.Unlock()

	k.logger.Debug("component registered",
		zap.String("component", h.Name()),
		zap.Stringer("state", h.State()),
		zap.String("lifestyle", string(desc.Lifestyle)),
	)
	k.events.fireRegistered(h)
	k.publish(changes)
	return h, nil
}

func (k *Kernel) prepare(d *ComponentDescriptor) (*ComponentDescriptor, error) {
	desc := d.clone()
	if len(desc.Services) == 0 && desc.Implementation.Type != nil {
		desc.Services = []ServiceType{ServiceType(typeKey(desc.Implementation.Type))}
	}
	if desc.Lifestyle == "" {
		desc.Lifestyle = Singleton
	}
	if desc.Lifestyle == Pooled {
		desc.Pool = mergePool(k.pool, desc.Pool, desc.Pool.MinSize == 0 && desc.Pool.MaxSize == 0)
	}
	if err := k.validate.Struct(desc); err != nil {
		return nil, errInvalidDescriptor(desc.Name, err)
	}
	return desc, nil
}

// mergePool fills the zero fields of o from base. MinSize is only taken from
// base when withMin is set, so an explicit MaxSize is never undercut by a
// larger default MinSize.
func mergePool(base, o PoolOptions, withMin bool) PoolOptions {
	out := base
	if !withMin || o.MinSize != 0 {
		out.MinSize = o.MinSize
	}
	if o.MaxSize != 0 {
		out.MaxSize = o.MaxSize
	}
	if o.Policy != "" {
		out.Policy = o.Policy
	}
	if o.Timeout != 0 {
		out.Timeout = o.Timeout
	}
	return out
}

func (k *Kernel) insertLocked(h *Handler) {
	k.byName[h.Name()] = h
	for _, svc := range h.descriptor.Services {
		k.byService[svc] = append(k.byService[svc], h)
	}
	k.handlers = append(k.handlers, h)
}

func (k *Kernel) deleteLocked(h *Handler) {
	delete(k.byName, h.Name())
	for _, svc := range h.descriptor.Services {
		k.byService[svc] = slices.DeleteFunc(k.byService[svc], func(o *Handler) bool { return o == h })
		if len(k.byService[svc]) == 0 {
			delete(k.byService, svc)
		}
	}
	k.handlers = slices.DeleteFunc(k.handlers, func(o *Handler) bool { return o == h })
	k.waiting = slices.DeleteFunc(k.waiting, func(o *Handler) bool { return o == h })
}

// reevaluateLocked promotes waiting handlers until a full pass changes
// nothing.
func (k *Kernel) reevaluateLocked() []StateChange {
	var changes []StateChange
	for {
		progressed := false
		remaining := make([]*Handler, 0, len(k.waiting))
		for _, h := range k.waiting {
			missing := k.resolver.unmetLocked(h)
			if len(missing) > 0 {
				h.setState(WaitingDependency, missing)
				remaining = append(remaining, h)
				continue
			}
			if from, changed := h.setState(Valid, nil); changed {
				changes = append(changes, StateChange{Handler: h, From: from, To: Valid})
			}
			progressed = true
		}
		k.waiting = remaining
		if !progressed {
			return changes
		}
	}
}

// demoteLocked moves valid handlers whose dependencies vanished back to
// WaitingDependency, until a full pass changes nothing.
func (k *Kernel) demoteLocked() []StateChange {
	var changes []StateChange
	for {
		progressed := false
		for _, h := range k.handlers {
			if h.State() != Valid {
				continue
			}
			missing := k.resolver.unmetLocked(h)
			if len(missing) == 0 {
				continue
			}
			if from, changed := h.setState(WaitingDependency, missing); changed {
				changes = append(changes, StateChange{Handler: h, From: from, To: WaitingDependency})
				k.waiting = append(k.waiting, h)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	for _, h := range k.waiting {
		h.setState(WaitingDependency, k.resolver.unmetLocked(h))
	}
	return changes
}

func (k *Kernel) reevaluate() {
	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return
	}
	changes := k.reevaluateLocked()
	k.mu.Unlock()
	k.publish(changes)
}

func (k *Kernel) revalidate() {
	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return
	}
	changes := k.demoteLocked()
	k.mu.Unlock()
	k.publish(changes)
}

func (k *Kernel) publish(changes []StateChange) {
	for _, c := range changes {
		k.logger.Debug("handler state changed",
			zap.String("component", c.Handler.Name()),
			zap.Stringer("from", c.From),
			zap.Stringer("to", c.To),
		)
		k.events.fireStateChanged(c)
	}
}

// ── Removal ───────────────────────────────────────────────────────────────────

// Remove deletes the named component and disposes its cached instances.
// Dependents that can no longer be satisfied return to WaitingDependency;
// those with another provider of the same service stay Valid. Every
// component that was bound to the removed one, directly or through other
// components, has its cached instances reset first, so its next
// activation binds to the current provider.
func (k *Kernel) Remove(name string) error {
	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return errKernelDisposed()
	}
	h, ok := k.byName[name]
	if !ok {
		k.mu.Unlock()
		return errComponentNotFound(name)
	}
	h.removed.Store(true)
	k.deleteLocked(h)
	changes := k.demoteLocked()
	k.mu.Unlock()

	stale := k.boundDependents(h)
	for i := len(stale) - 1; i >= 0; i-- {
		d := stale[i]
		if err := resetLifestyle(d); err != nil {
			k.logger.Warn("decommission failed during rebind",
				zap.String("component", d.Name()),
				zap.String("removed", name),
				zap.Error(err),
			)
		}
		if l := d.Lifestyle(); l == Singleton || l == PerThread {
			d.kernel.burden.purge(d)
		}
	}

	k.burden.purge(h)
	if err := disposeLifestyle(h); err != nil {
		k.logger.Warn("decommission failed during removal",
			zap.String("component", name),
			zap.Error(err),
		)
	}
	k.logger.Debug("component removed",
		zap.String("component", name),
		zap.Int("rebound", len(stale)),
	)
	k.events.fireRemoved(h)
	k.publish(changes)
	return nil
}

// boundDependents returns the handlers of this kernel and its descendants
// whose activations used removed, directly or transitively, nearest first.
func (k *Kernel) boundDependents(removed *Handler) []*Handler {
	all := k.treeHandlers()
	marked := map[*Handler]bool{removed: true}
	var out []*Handler
	for {
		var next []*Handler
		for _, h := range all {
			if !marked[h] && h.boundToAny(marked) {
				next = append(next, h)
			}
		}
		if len(next) == 0 {
			return out
		}
		for _, h := range next {
			marked[h] = true
		}
		out = append(out, next...)
	}
}

func (k *Kernel) treeHandlers() []*Handler {
	k.mu.RLock()
	out := slices.Clone(k.handlers)
	children := slices.Clone(k.children)
	k.mu.RUnlock()
	for _, c := range children {
		out = append(out, c.treeHandlers()...)
	}
	return out
}

// ── Lookup ────────────────────────────────────────────────────────────────────

// HasComponent reports whether key names a component or a service with at
// least one handler in this kernel.
func (k *Kernel) HasComponent(key string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if _, ok := k.byName[key]; ok {
		return true
	}
	return len(k.byService[ServiceType(key)]) > 0
}

// GetHandler returns the handler registered under name.
func (k *Kernel) GetHandler(name string) (*Handler, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	h, ok := k.byName[name]
	if !ok {
		return nil, errComponentNotFound(name)
	}
	return h, nil
}

// GetHandlers returns every handler advertising t, in registration order.
func (k *Kernel) GetHandlers(t ServiceType) []*Handler {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Clone(k.byService[t])
}

// Handlers returns every handler in registration order.
func (k *Kernel) Handlers() []*Handler {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Clone(k.handlers)
}

// WaitingHandlers returns the handlers still waiting for dependencies.
func (k *Kernel) WaitingHandlers() []*Handler {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Clone(k.waiting)
}

// lookup finds the handler for key: exact name first, then the default
// handler of the service.
func (k *Kernel) lookup(key string) (*Handler, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.disposed {
		return nil, errKernelDisposed()
	}
	if h, ok := k.byName[key]; ok {
		return h, nil
	}
	return k.defaultHandlerLocked(ServiceType(key)), nil
}

// defaultHandlerLocked returns the first Valid handler of t in registration
// order, or the first registered one when none is Valid.
func (k *Kernel) defaultHandlerLocked(t ServiceType) *Handler {
	hs := k.byService[t]
	if len(hs) == 0 {
		return nil
	}
	for _, h := range hs {
		if h.State() == Valid {
			return h
		}
	}
	return hs[0]
}

// satisfierLocked returns the Valid handler that can satisfy dep for self.
// A handler never satisfies its own dependency.
func (k *Kernel) satisfierLocked(self *Handler, dep DependencyModel) *Handler {
	if dep.TargetName != "" {
		t, ok := k.byName[dep.TargetName]
		if !ok || t == self || t.State() != Valid {
			return nil
		}
		if dep.RequiredType != "" && !t.Supports(dep.RequiredType) {
			return nil
		}
		return t
	}
	for _, t := range k.byService[dep.RequiredType] {
		if t != self && t.State() == Valid {
			return t
		}
	}
	return nil
}

// canProvide reports whether this kernel or an ancestor can satisfy dep.
func (k *Kernel) canProvide(dep DependencyModel) bool {
	k.mu.RLock()
	found := !k.disposed && k.satisfierLocked(nil, dep) != nil
	k.mu.RUnlock()
	if found {
		return true
	}
	return k.parent != nil && k.parent.canProvide(dep)
}

// provide resolves dep from this kernel or an ancestor.
func (k *Kernel) provide(dep DependencyModel, ctx *Context) (any, bool, error) {
	k.mu.RLock()
	t := k.satisfierLocked(nil, dep)
	k.mu.RUnlock()
	if t != nil {
		v, err := k.resolveHandler(t, ctx)
		return v, true, err
	}
	if k.parent != nil {
		return k.parent.provide(dep, ctx)
	}
	return nil, false, nil
}

// ── Resolution ────────────────────────────────────────────────────────────────

// Resolve returns an instance for key: a component name, else a service
// type, else whatever the parent kernel or a lazy loader provides.
//
// Every call starts a fresh activation. A factory resolving through the
// kernel it closes over must use Activation.Resolve or pass
// WithContext(a.Context()), so the cycle guard sees the enclosing
// activation. A singleton that resolves itself without either fails with
// CircularDependency after the activation timeout; a transient one recurses
// without bound.
//
//	v, err := k.Resolve("mailer", kernel.WithOverride("host", "localhost"))
func (k *Kernel) Resolve(key string, opts ...ResolveOption) (any, error) {
	ctx := newContext(k.activationTimeout, opts...)
	spanCtx, span := k.tracer.Start(ctx.ctx, "kernel.resolve",
		trace.WithAttributes(
			attribute.String("kernel.key", key),
			attribute.String("kernel.activation_id", ctx.ID()),
		),
	)
	ctx.ctx = spanCtx
	defer span.End()

	inst, err := k.resolve(key, ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return inst, nil
}

func (k *Kernel) resolve(key string, ctx *Context) (any, error) {
	h, err := k.lookup(key)
	if err != nil {
		return nil, err
	}
	if h != nil {
		return k.resolveHandler(h, ctx)
	}

	if k.parent != nil {
		inst, err := k.parent.resolve(key, ctx)
		if !isNotFound(err, key) {
			return inst, err
		}
	}

	h, err = k.loadLazily(key)
	if err != nil {
		return nil, err
	}
	if h != nil {
		return k.resolveHandler(h, ctx)
	}
	return nil, errComponentNotFound(key)
}

func isNotFound(err error, key string) bool {
	kerr, ok := err.(*Error)
	return ok && kerr.Code == CodeComponentNotFound && kerr.Component == key
}

// resolveHandler guards against instantiation cycles, then activates h.
func (k *Kernel) resolveHandler(h *Handler, ctx *Context) (any, error) {
	if members, cyclic := ctx.cycleThrough(h); cyclic {
		return nil, errCircularDependency(members)
	}
	k.mu.RLock()
	disposed := k.disposed
	k.mu.RUnlock()
	if disposed {
		return nil, errKernelDisposed()
	}

	if n := len(ctx.stack); n > 0 {
		ctx.stack[n-1].bind(h)
	}
	ctx.push(h)
	defer ctx.pop()

	inst, err := h.resolve(ctx)
	if err != nil {
		return nil, err
	}
	k.burden.track(inst, h)
	return inst, nil
}

// ResolveAll returns one instance from every Valid handler advertising t,
// in registration order, followed by those of the parent chain. Waiting and
// Invalid handlers are skipped.
func (k *Kernel) ResolveAll(t ServiceType, opts ...ResolveOption) ([]any, error) {
	return k.resolveAll(t, newContext(k.activationTimeout, opts...))
}

func (k *Kernel) resolveAll(t ServiceType, ctx *Context) ([]any, error) {
	k.mu.RLock()
	if k.disposed {
		k.mu.RUnlock()
		return nil, errKernelDisposed()
	}
	var valid []*Handler
	for _, h := range k.byService[t] {
		if h.State() == Valid {
			valid = append(valid, h)
		}
	}
	k.mu.RUnlock()

	out := make([]any, 0, len(valid))
	for _, h := range valid {
		inst, err := k.resolveHandler(h, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if k.parent != nil {
		more, err := k.parent.resolveAll(t, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	return out, nil
}

func (k *Kernel) loadLazily(key string) (*Handler, error) {
	k.mu.RLock()
	loaders := slices.Clone(k.loaders)
	k.mu.RUnlock()

	for _, l := range loaders {
		loaded, err := l.Load(k, key)
		if err != nil {
			return nil, fmt.Errorf("lazy load %q: %w", key, err)
		}
		if !loaded {
			continue
		}
		h, err := k.lookup(key)
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}
	}
	return nil, nil
}

// notReady explains why h is waiting. A cycle among waiting handlers is
// reported as CircularDependency instead of HandlerNotReady.
func (k *Kernel) notReady(h *Handler) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var missing []MissingDependency
	for _, dep := range h.MissingDependencies() {
		w := &waitWalk{
			kernel:  k,
			visited: map[*Handler]bool{h: true},
			path:    []*Handler{h},
		}
		w.walk(h, dep, 1)
		if w.cycle != nil {
			return errCircularDependency(w.cycle)
		}
		missing = append(missing, MissingDependency{Dependency: dep, Chain: w.chain})
	}
	return errHandlerNotReady(h.Name(), missing)
}

type waitWalk struct {
	kernel  *Kernel
	visited map[*Handler]bool
	path    []*Handler
	chain   []string
	cycle   []string
}

func (w *waitWalk) walk(from *Handler, dep DependencyModel, depth int) {
	if w.cycle != nil || depth > maxWaitDepth {
		return
	}
	for _, c := range w.kernel.waitingCandidatesLocked(from, dep) {
		if i := slices.Index(w.path, c); i >= 0 {
			w.cycle = make([]string, 0, len(w.path)-i)
			for _, p := range w.path[i:] {
				w.cycle = append(w.cycle, p.Name())
			}
			return
		}
		if w.visited[c] {
			continue
		}
		w.visited[c] = true
		w.chain = append(w.chain, c.Name())
		w.path = append(w.path, c)
		for _, next := range c.MissingDependencies() {
			w.walk(c, next, depth+1)
			if w.cycle != nil {
				return
			}
		}
		w.path = w.path[:len(w.path)-1]
	}
}

func (k *Kernel) waitingCandidatesLocked(from *Handler, dep DependencyModel) []*Handler {
	if dep.TargetName != "" {
		t, ok := k.byName[dep.TargetName]
		if ok && t != from && t.State() == WaitingDependency {
			return []*Handler{t}
		}
		return nil
	}
	var out []*Handler
	for _, t := range k.byService[dep.RequiredType] {
		if t != from && t.State() == WaitingDependency {
			out = append(out, t)
		}
	}
	return out
}

// ── Release & disposal ────────────────────────────────────────────────────────

// Release hands an instance back to the lifestyle that produced it.
// Transient instances are decommissioned, pooled ones return to the pool;
// for other lifestyles it is a no-op. Unknown instances are ignored.
func (k *Kernel) Release(instance any) error {
	h, ok := k.burden.owner(instance)
	if !ok {
		if k.parent != nil {
			return k.parent.Release(instance)
		}
		return nil
	}
	released, err := h.lifestyle.Release(instance)
	if released {
		k.burden.forget(instance)
	}
	if err != nil {
		k.logger.Warn("decommission failed during release",
			zap.String("component", h.Name()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Dispose tears the kernel down: child kernels first, then every handler in
// reverse registration order. A failing handler is logged and skipped; all
// failures are returned combined (see multierr.Errors).
func (k *Kernel) Dispose() error {
	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return nil
	}
	k.disposed = true
	handlers := slices.Clone(k.handlers)
	children := k.children
	k.children = nil
	k.mu.Unlock()

	var errs error
	for i := len(children) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, children[i].Dispose())
	}
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if err := disposeLifestyle(h); err != nil {
			k.logger.Warn("decommission failed during dispose",
				zap.String("component", h.Name()),
				zap.Error(err),
			)
			errs = multierr.Append(errs, err)
		}
	}
	k.burden.reset()
	if k.parent != nil {
		k.parent.detach(k)
	}

	k.logger.Info("kernel disposed",
		zap.Int("components", len(handlers)),
		zap.Int("failures", len(multierr.Errors(errs))),
	)
	return errs
}

func disposeLifestyle(h *Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispose %s: panic: %v", h.Name(), r)
		}
	}()
	return h.lifestyle.Dispose()
}

// resetLifestyle drops the cached instances of h when its lifestyle
// supports it.
func resetLifestyle(h *Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reset %s: panic: %v", h.Name(), r)
		}
	}()
	h.unbind()
	if r, ok := h.lifestyle.(Resetter); ok {
		return r.Reset()
	}
	return nil
}

func (k *Kernel) detach(child *Kernel) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.children = slices.DeleteFunc(k.children, func(c *Kernel) bool { return c == child })
}

// ── Generics helpers ──────────────────────────────────────────────────────────

// Resolve resolves key and type-asserts the result.
//
//	repo, err := kernel.Resolve[UserRepository](k, "repo")
func Resolve[T any](k *Kernel, key string, opts ...ResolveOption) (T, error) {
	var zero T
	inst, err := k.Resolve(key, opts...)
	if err != nil {
		return zero, err
	}
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("kernel: Resolve[%s]: [%s] resolved to %T", typeKey(reflect.TypeFor[T]()), key, inst)
	}
	return typed, nil
}

// ResolveService resolves the default component for ServiceOf[T].
func ResolveService[T any](k *Kernel, opts ...ResolveOption) (T, error) {
	return Resolve[T](k, string(ServiceOf[T]()), opts...)
}

// MustResolve is like Resolve but panics on error.
func MustResolve[T any](k *Kernel, key string, opts ...ResolveOption) T {
	v, err := Resolve[T](k, key, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// ResolveAllOf resolves every component advertising t and type-asserts
// each instance.
//
//	plugins, err := kernel.ResolveAllOf[Plugin](k, kernel.ServiceOf[Plugin]())
func ResolveAllOf[T any](k *Kernel, t ServiceType, opts ...ResolveOption) ([]T, error) {
	insts, err := k.ResolveAll(t, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(insts))
	for _, inst := range insts {
		typed, ok := inst.(T)
		if !ok {
			return nil, fmt.Errorf("kernel: ResolveAllOf[%s]: got %T", t, inst)
		}
		out = append(out, typed)
	}
	return out, nil
}
