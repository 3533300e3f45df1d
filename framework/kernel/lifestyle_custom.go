package kernel

// LifestyleFunc adapts plain functions into a LifestyleManager for the
// Custom lifestyle. Nil hooks fall back to: create on every Acquire, ignore
// Release, nothing to reset or dispose.
//
//	kernel.Component("session").
//	    LifestyleCustom(func() kernel.LifestyleManager {
//	        return &kernel.LifestyleFunc{
//	            AcquireFn: func(act kernel.ComponentActivator, ctx *kernel.Context) (any, error) {
//	                return sessions.lookupOrCreate(ctx.Key(), act, ctx)
//	            },
//	        }
//	    })
type LifestyleFunc struct {
	AcquireFn func(activator ComponentActivator, ctx *Context) (any, error)
	ReleaseFn func(activator ComponentActivator, instance any) (bool, error)
	ResetFn   func(activator ComponentActivator) error
	DisposeFn func(activator ComponentActivator) error

	activator ComponentActivator
}

func (l *LifestyleFunc) Init(activator ComponentActivator, _ *ComponentDescriptor) {
	l.activator = activator
}

func (l *LifestyleFunc) Acquire(ctx *Context) (any, error) {
	if l.AcquireFn == nil {
		return l.activator.Create(ctx)
	}
	return l.AcquireFn(l.activator, ctx)
}

func (l *LifestyleFunc) Release(instance any) (bool, error) {
	if l.ReleaseFn == nil {
		return false, nil
	}
	return l.ReleaseFn(l.activator, instance)
}

func (l *LifestyleFunc) Reset() error {
	if l.ResetFn == nil {
		return nil
	}
	return l.ResetFn(l.activator)
}

func (l *LifestyleFunc) Dispose() error {
	if l.DisposeFn == nil {
		return nil
	}
	return l.DisposeFn(l.activator)
}
