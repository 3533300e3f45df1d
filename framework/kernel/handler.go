package kernel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HandlerState is the position of a handler in its state machine:
// WaitingDependency -> Valid -> Invalid.
type HandlerState int

const (
	WaitingDependency HandlerState = iota
	Valid
	Invalid
)

func (s HandlerState) String() string {
	switch s {
	case WaitingDependency:
		return "waiting"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("HandlerState(%d)", int(s))
	}
}

// Handler is the runtime wrapper around one registered component.
type Handler struct {
	kernel     *Kernel
	descriptor *ComponentDescriptor
	seq        uint64
	steps      *LifecycleSteps
	lifestyle  LifestyleManager

	mu      sync.RWMutex
	state   HandlerState
	missing []DependencyModel
	failure error
	bound   map[*Handler]struct{} // handlers that supplied a dependency
	removed atomic.Bool
}

// newHandler builds an unregistered handler; the kernel assigns seq when it
// inserts it.
func newHandler(k *Kernel, d *ComponentDescriptor, inspectors []Inspector) (*Handler, error) {
	h := &Handler{
		kernel:     k,
		descriptor: d,
		steps:      newLifecycleSteps(),
	}
	for _, inspect := range inspectors {
		inspect(d, h.steps)
	}
	h.lifestyle = newLifestyleManager(d)
	if h.lifestyle == nil {
		return nil, errInvalidDescriptor(d.Name, fmt.Errorf("custom lifestyle factory returned nil"))
	}
	h.lifestyle.Init(h, d)
	return h, nil
}

// Name returns the component name.
func (h *Handler) Name() string { return h.descriptor.Name }

// Descriptor returns a copy of the registered descriptor.
func (h *Handler) Descriptor() ComponentDescriptor { return *h.descriptor.clone() }

// Services returns the advertised service types.
func (h *Handler) Services() []ServiceType {
	return append([]ServiceType(nil), h.descriptor.Services...)
}

// Lifestyle returns the lifestyle kind.
func (h *Handler) Lifestyle() LifestyleKind { return h.descriptor.Lifestyle }

// Supports reports whether the handler advertises t.
func (h *Handler) Supports(t ServiceType) bool { return h.descriptor.Provides(t) }

// CommissionSteps returns the names of the attached commission steps.
func (h *Handler) CommissionSteps() []string { return h.steps.CommissionSteps() }

// DecommissionSteps returns the names of the attached decommission steps.
func (h *Handler) DecommissionSteps() []string { return h.steps.DecommissionSteps() }

// PoolStats returns pool statistics for pooled handlers.
func (h *Handler) PoolStats() (PoolStats, bool) {
	if p, ok := h.lifestyle.(*pooledLifestyle); ok {
		return p.Stats(), true
	}
	return PoolStats{}, false
}

// State returns the current state.
func (h *Handler) State() HandlerState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// MissingDependencies returns the required dependencies that cannot
// currently be satisfied. Empty unless the handler is waiting.
func (h *Handler) MissingDependencies() []DependencyModel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]DependencyModel(nil), h.missing...)
}

// Failure returns the activation error that made the handler Invalid.
func (h *Handler) Failure() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.failure
}

// setState moves the handler between WaitingDependency and Valid. Invalid
// is terminal and never left.
func (h *Handler) setState(to HandlerState, missing []DependencyModel) (HandlerState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.state
	if from == Invalid {
		return from, false
	}
	h.missing = missing
	h.state = to
	return from, from != to
}

// bind records that t supplied a dependency of h.
func (h *Handler) bind(t *Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bound == nil {
		h.bound = make(map[*Handler]struct{})
	}
	h.bound[t] = struct{}{}
}

func (h *Handler) boundToAny(set map[*Handler]bool) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for t := range h.bound {
		if set[t] {
			return true
		}
	}
	return false
}

func (h *Handler) unbind() {
	h.mu.Lock()
	h.bound = nil
	h.mu.Unlock()
}

func (h *Handler) invalidate(err error) {
	h.mu.Lock()
	from := h.state
	if from == Invalid {
		h.mu.Unlock()
		return
	}
	h.state = Invalid
	h.failure = err
	h.missing = nil
	h.mu.Unlock()

	h.kernel.logger.Error("component activation failed",
		zap.String("component", h.Name()),
		zap.Error(err),
	)
	h.kernel.events.fireStateChanged(StateChange{Handler: h, From: from, To: Invalid})
}

// resolve is the handler's activation entry point.
func (h *Handler) resolve(ctx *Context) (any, error) {
	h.mu.RLock()
	state, failure := h.state, h.failure
	h.mu.RUnlock()

	switch state {
	case Invalid:
		return nil, failure
	case WaitingDependency:
		return nil, h.kernel.notReady(h)
	}
	if h.removed.Load() {
		return nil, errComponentNotFound(h.Name())
	}
	inst, err := h.lifestyle.Acquire(ctx)
	if err != nil && h.removed.Load() && errors.Is(err, ErrKernelDisposed) {
		return nil, errComponentNotFound(h.Name())
	}
	return inst, err
}

// ── ComponentActivator ────────────────────────────────────────────────────────

// Create builds a new instance: dependencies, factory, proxy, commission.
// A failure in the last three marks the handler Invalid.
func (h *Handler) Create(ctx *Context) (any, error) {
	parent := ctx.ctx
	spanCtx, span := h.kernel.tracer.Start(parent, "kernel.activate",
		trace.WithAttributes(
			attribute.String("kernel.component", h.Name()),
			attribute.String("kernel.lifestyle", string(h.Lifestyle())),
			attribute.String("kernel.activation_id", ctx.ID()),
		),
	)
	ctx.ctx = withActivation(spanCtx, ctx)
	defer func() {
		ctx.ctx = parent
		span.End()
	}()

	start := time.Now()
	inst, err := h.create(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	h.kernel.logger.Debug("component created",
		zap.String("component", h.Name()),
		zap.String("activation_id", ctx.ID()),
		zap.Duration("elapsed", time.Since(start)),
	)
	h.kernel.events.fireCreated(h, inst)
	return inst, nil
}

func (h *Handler) create(ctx *Context) (any, error) {
	args, err := h.kernel.resolver.resolveArguments(h, ctx)
	if err != nil {
		return nil, err
	}

	act := &Activation{descriptor: h.descriptor, args: args, ctx: ctx, kernel: h.kernel}
	inst, err := callFactory(h.descriptor.Implementation.Factory, act)
	if err != nil {
		return nil, h.fail("construction", err)
	}

	if proxy := h.kernel.proxy; proxy != nil {
		wrapped, err := proxy.Wrap(inst, h.descriptor)
		if err != nil {
			return nil, h.fail("proxy", err)
		}
		inst = wrapped
	}

	if err := h.steps.Commission(inst); err != nil {
		return nil, h.fail("commission", err)
	}
	return inst, nil
}

func (h *Handler) fail(phase string, cause error) error {
	err := errActivationFailure(h.Name(), phase, cause)
	h.invalidate(err)
	return err
}

func callFactory(f Factory, a *Activation) (inst any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f(a)
}

// Destroy decommissions an instance.
func (h *Handler) Destroy(instance any) error {
	err := h.steps.Decommission(instance)
	h.kernel.events.fireDestroyed(h, instance)
	if err != nil {
		return fmt.Errorf("decommission %s: %w", h.Name(), err)
	}
	return nil
}
