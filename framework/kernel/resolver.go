package kernel

import "fmt"

// Converter turns configuration literals into typed values. It is supplied
// by the caller (see framework/conversion for the default one).
type Converter interface {
	CanConvert(target ServiceType) bool
	Convert(raw string, target ServiceType) (any, error)
}

// ProxyFactory lets external frameworks wrap an instance after construction
// and before commission.
type ProxyFactory interface {
	Wrap(instance any, d *ComponentDescriptor) (any, error)
}

// ProxyFunc adapts a function to ProxyFactory.
type ProxyFunc func(instance any, d *ComponentDescriptor) (any, error)

func (f ProxyFunc) Wrap(instance any, d *ComponentDescriptor) (any, error) { return f(instance, d) }

var stringType = ServiceOf[string]()

// dependencyResolver answers two questions for a handler: can a dependency
// be satisfied right now (registration time), and what value satisfies it
// (activation time). Sources, in order: override by name, override by
// type, this kernel, the parent chain, a converted configuration literal.
type dependencyResolver struct {
	kernel *Kernel
}

// ── Static satisfiability ─────────────────────────────────────────────────────

// unmetLocked returns the required dependencies of h that nothing can
// satisfy. The caller holds the kernel lock.
func (r *dependencyResolver) unmetLocked(h *Handler) []DependencyModel {
	var missing []DependencyModel
	for _, dep := range h.descriptor.Dependencies {
		if dep.Optional {
			continue
		}
		if !r.canSatisfyLocked(h, dep) {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (r *dependencyResolver) canSatisfyLocked(h *Handler, dep DependencyModel) bool {
	k := r.kernel
	if k.satisfierLocked(h, dep) != nil {
		return true
	}
	if k.parent != nil && k.parent.canProvide(dep) {
		return true
	}
	return r.hasLiteral(h, dep)
}

func (r *dependencyResolver) hasLiteral(h *Handler, dep DependencyModel) bool {
	if _, ok := h.descriptor.Parameters[dep.Key()]; !ok {
		return false
	}
	if dep.RequiredType == "" || dep.RequiredType == stringType {
		return true
	}
	conv := r.kernel.converter
	return conv != nil && conv.CanConvert(dep.RequiredType)
}

// ── Activation ────────────────────────────────────────────────────────────────

// resolveArguments resolves every dependency of h on ctx.
func (r *dependencyResolver) resolveArguments(h *Handler, ctx *Context) (map[string]any, error) {
	args := make(map[string]any, len(h.descriptor.Dependencies))
	for _, dep := range h.descriptor.Dependencies {
		v, found, err := r.resolveDependency(h, dep, ctx)
		if err != nil {
			return nil, errDependencyUnsatisfied(h.Name(), dep, err)
		}
		if !found {
			if dep.Optional {
				continue
			}
			return nil, errDependencyUnsatisfied(h.Name(), dep, nil)
		}
		args[dep.Key()] = v
	}
	return args, nil
}

func (r *dependencyResolver) resolveDependency(h *Handler, dep DependencyModel, ctx *Context) (any, bool, error) {
	if v, ok := ctx.override(dep); ok {
		return v, true, nil
	}

	k := r.kernel
	k.mu.RLock()
	target := k.satisfierLocked(h, dep)
	k.mu.RUnlock()
	if target != nil {
		v, err := k.resolveHandler(target, ctx)
		return v, true, err
	}

	if k.parent != nil {
		if v, found, err := k.parent.provide(dep, ctx); found || err != nil {
			return v, found, err
		}
	}

	return r.convertLiteral(h, dep)
}

func (r *dependencyResolver) convertLiteral(h *Handler, dep DependencyModel) (any, bool, error) {
	raw, ok := h.descriptor.Parameters[dep.Key()]
	if !ok {
		return nil, false, nil
	}
	if dep.RequiredType == "" || dep.RequiredType == stringType {
		return raw, true, nil
	}
	conv := r.kernel.converter
	if conv == nil || !conv.CanConvert(dep.RequiredType) {
		return nil, false, nil
	}
	v, err := conv.Convert(raw, dep.RequiredType)
	if err != nil {
		return nil, true, fmt.Errorf("convert parameter %q to %s: %w", dep.Key(), dep.RequiredType, err)
	}
	return v, true, nil
}
