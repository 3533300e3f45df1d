package kernel

import "time"

// ComponentBuilder is the fluent registration API. It only assembles a
// ComponentDescriptor; nothing touches the kernel until Register.
//
//	kernel.Component("repo").
//	    For(kernel.ServiceOf[UserRepository]()).
//	    ImplementedBy(kernel.Construct(newSQLRepo)).
//	    DependsOn(kernel.Needs(kernel.ServiceOf[*sql.DB]())).
//	    LifestyleTransient().
//	    Register(k)
type ComponentBuilder struct {
	d ComponentDescriptor
}

// Component starts a builder for the component called name.
func Component(name string) *ComponentBuilder {
	return &ComponentBuilder{d: ComponentDescriptor{Name: name}}
}

// For adds advertised services. When never called, the implementation type
// becomes the only service.
func (b *ComponentBuilder) For(services ...ServiceType) *ComponentBuilder {
	b.d.Services = append(b.d.Services, services...)
	return b
}

// ImplementedBy sets the implementation.
func (b *ComponentBuilder) ImplementedBy(impl Implementation) *ComponentBuilder {
	b.d.Implementation = impl
	return b
}

// UsingFactory sets an untyped factory as the implementation.
func (b *ComponentBuilder) UsingFactory(fn Factory) *ComponentBuilder {
	return b.ImplementedBy(FromFactory(fn))
}

// Instance registers a pre-built value.
//
//	kernel.Component("config").Instance(cfg).Register(k)
func (b *ComponentBuilder) Instance(v any) *ComponentBuilder {
	return b.ImplementedBy(Instance(v))
}

func (b *ComponentBuilder) LifestyleSingleton() *ComponentBuilder {
	b.d.Lifestyle = Singleton
	return b
}

func (b *ComponentBuilder) LifestyleTransient() *ComponentBuilder {
	b.d.Lifestyle = Transient
	return b
}

func (b *ComponentBuilder) LifestylePerThread() *ComponentBuilder {
	b.d.Lifestyle = PerThread
	return b
}

// LifestylePooled selects the pooled lifestyle. Zero sizes take the kernel
// defaults.
func (b *ComponentBuilder) LifestylePooled(minSize, maxSize int) *ComponentBuilder {
	b.d.Lifestyle = Pooled
	b.d.Pool.MinSize = minSize
	b.d.Pool.MaxSize = maxSize
	return b
}

// PoolPolicy sets what a pooled Acquire does when the pool is exhausted.
func (b *ComponentBuilder) PoolPolicy(policy PoolPolicy, timeout time.Duration) *ComponentBuilder {
	b.d.Pool.Policy = policy
	b.d.Pool.Timeout = timeout
	return b
}

// LifestyleCustom plugs in a caller-supplied LifestyleManager.
func (b *ComponentBuilder) LifestyleCustom(fn func() LifestyleManager) *ComponentBuilder {
	b.d.Lifestyle = Custom
	b.d.CustomLifestyle = fn
	return b
}

// DependsOn appends dependencies.
func (b *ComponentBuilder) DependsOn(deps ...DependencyModel) *ComponentBuilder {
	b.d.Dependencies = append(b.d.Dependencies, deps...)
	return b
}

// Parameter supplies a configuration literal for the dependency keyed name.
func (b *ComponentBuilder) Parameter(name, literal string) *ComponentBuilder {
	if b.d.Parameters == nil {
		b.d.Parameters = make(map[string]string)
	}
	b.d.Parameters[name] = literal
	return b
}

// Property sets an extended property.
func (b *ComponentBuilder) Property(key string, v any) *ComponentBuilder {
	if b.d.ExtendedProperties == nil {
		b.d.ExtendedProperties = make(map[string]any)
	}
	b.d.ExtendedProperties[key] = v
	return b
}

// OnCreate appends a commission step, run after the built-in ones.
func (b *ComponentBuilder) OnCreate(name string, fn StepFunc) *ComponentBuilder {
	b.d.OnCreate = append(b.d.OnCreate, Step{Name: name, Fn: fn})
	return b
}

// OnDestroy appends a decommission step, run before the built-in ones.
func (b *ComponentBuilder) OnDestroy(name string, fn StepFunc) *ComponentBuilder {
	b.d.OnDestroy = append(b.d.OnDestroy, Step{Name: name, Fn: fn})
	return b
}

// Descriptor returns a copy of the assembled descriptor.
func (b *ComponentBuilder) Descriptor() ComponentDescriptor {
	return *b.d.clone()
}

// Register registers the assembled descriptor with k.
func (b *ComponentBuilder) Register(k *Kernel) (*Handler, error) {
	return k.Register(b.d)
}
