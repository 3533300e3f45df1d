package kernel

import (
	"fmt"
	"maps"
	"reflect"
	"time"
)

// ── Service types ─────────────────────────────────────────────────────────────

// ServiceType identifies an abstract capability a component can satisfy.
type ServiceType string

func (s ServiceType) String() string { return string(s) }

// ServiceOf returns the ServiceType for T, using the same key as TypeKey.
// Pointers are stripped, so ServiceOf[*T]() == ServiceOf[T](): a component
// built as T satisfies a dependency declared on *T and the mismatch only
// shows up when the factory asserts the argument. Register a component
// under the exact Go type its consumers assert (Construct records it).
//
//	kernel.ServiceOf[UserRepository]()   // "example.com/app.UserRepository"
//	kernel.ServiceOf[time.Duration]()    // "time.Duration"
//	kernel.ServiceOf[[]string]()         // "[]string"
func ServiceOf[T any]() ServiceType {
	return ServiceType(typeKey(reflect.TypeFor[T]()))
}

// TypeKey returns the package-qualified type name of v, useful as a stable
// service key when working with interfaces.
//
//	key := kernel.TypeKey((*UserRepository)(nil))  // "main.UserRepository"
func TypeKey(v any) string {
	return typeKey(reflect.TypeOf(v))
}

func typeKey(t reflect.Type) string {
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// ── Lifestyles ────────────────────────────────────────────────────────────────

// LifestyleKind selects the instance caching policy of a component.
type LifestyleKind string

const (
	Singleton LifestyleKind = "singleton"
	Transient LifestyleKind = "transient"
	PerThread LifestyleKind = "per-thread"
	Pooled    LifestyleKind = "pooled"
	Custom    LifestyleKind = "custom"
)

// PoolPolicy decides what a pooled Acquire does when every slot is taken.
type PoolPolicy string

const (
	// PoolBlock waits for a Release, bounded by PoolOptions.Timeout and the
	// caller's context.
	PoolBlock PoolPolicy = "block"

	// PoolFailFast returns ErrResourceExhausted immediately.
	PoolFailFast PoolPolicy = "failfast"
)

// PoolOptions configures the Pooled lifestyle. Zero fields take the kernel
// defaults (see WithPoolDefaults).
type PoolOptions struct {
	MinSize int           `validate:"gte=0"`
	MaxSize int           `validate:"gte=0"`
	Policy  PoolPolicy    `validate:"omitempty,oneof=block failfast"`
	Timeout time.Duration `validate:"gte=0"`
}

// ── Dependencies ──────────────────────────────────────────────────────────────

// DependencyKind tells the resolver whether a dependency names a service or
// a parameter.
type DependencyKind int

const (
	ServiceDependency DependencyKind = iota
	ParameterDependency
)

func (k DependencyKind) String() string {
	switch k {
	case ServiceDependency:
		return "service"
	case ParameterDependency:
		return "parameter"
	default:
		return fmt.Sprintf("DependencyKind(%d)", int(k))
	}
}

// DependencyModel describes one input a component needs.
type DependencyModel struct {
	Kind         DependencyKind
	TargetName   string
	RequiredType ServiceType
	Optional     bool
}

// Needs declares a required dependency on any component providing t.
func Needs(t ServiceType) DependencyModel {
	return DependencyModel{Kind: ServiceDependency, RequiredType: t}
}

// NeedsNamed declares a required dependency on the component called name.
// t may be empty; when set the named component must also provide it.
func NeedsNamed(name string, t ServiceType) DependencyModel {
	return DependencyModel{Kind: ServiceDependency, TargetName: name, RequiredType: t}
}

// Param declares a required named parameter, typically supplied as a
// configuration literal and converted to t.
func Param(name string, t ServiceType) DependencyModel {
	return DependencyModel{Kind: ParameterDependency, TargetName: name, RequiredType: t}
}

// AsOptional returns a copy of d that may resolve to nothing.
func (d DependencyModel) AsOptional() DependencyModel {
	d.Optional = true
	return d
}

// Key is the name under which the resolved value is handed to the factory.
func (d DependencyModel) Key() string {
	if d.TargetName != "" {
		return d.TargetName
	}
	return string(d.RequiredType)
}

func (d DependencyModel) String() string {
	s := d.Kind.String() + " " + d.Key()
	if d.TargetName != "" && d.RequiredType != "" {
		s += " (" + string(d.RequiredType) + ")"
	}
	if d.Optional {
		s += " [optional]"
	}
	return s
}

// ── Implementation ────────────────────────────────────────────────────────────

// Factory builds a component instance from its resolved dependencies.
// Nested resolution from inside a factory goes through a.Resolve, or through
// Kernel.Resolve with WithContext(a.Context()); either keeps the cycle
// guard of the enclosing activation.
type Factory func(a *Activation) (any, error)

// Implementation pairs a factory with the Go type it produces. Type drives
// lifecycle step discovery and may be nil when unknown.
type Implementation struct {
	Type    reflect.Type
	Factory Factory
}

// Construct wraps a typed factory, recording T for lifecycle discovery.
//
//	kernel.Construct(func(a *kernel.Activation) (*SQLRepo, error) {
//	    db, err := kernel.Arg[*sql.DB](a, "db")
//	    if err != nil {
//	        return nil, err
//	    }
//	    return &SQLRepo{db: db}, nil
//	})
func Construct[T any](fn func(a *Activation) (T, error)) Implementation {
	return Implementation{
		Type: reflect.TypeFor[T](),
		Factory: func(a *Activation) (any, error) {
			return fn(a)
		},
	}
}

// FromFactory wraps an untyped factory.
func FromFactory(fn Factory) Implementation {
	return Implementation{Factory: fn}
}

// Instance returns an Implementation that always yields v.
func Instance(v any) Implementation {
	return Implementation{
		Type:    reflect.TypeOf(v),
		Factory: func(*Activation) (any, error) { return v, nil },
	}
}

// ── Descriptor ────────────────────────────────────────────────────────────────

// ComponentDescriptor is the full declaration of a component. The kernel
// keeps its own copy, so mutating a descriptor after Register has no effect.
type ComponentDescriptor struct {
	Name     string        `validate:"required"`
	Services []ServiceType `validate:"required,min=1,dive,required"`

	Implementation Implementation `validate:"-"`
	Lifestyle      LifestyleKind  `validate:"omitempty,oneof=singleton transient per-thread pooled custom"`

	Dependencies []DependencyModel `validate:"dive"`

	// Parameters holds configuration literals keyed by dependency key.
	Parameters map[string]string

	ExtendedProperties map[string]any

	Pool PoolOptions

	// CustomLifestyle builds the manager for the Custom lifestyle.
	CustomLifestyle func() LifestyleManager

	// OnCreate and OnDestroy are declared commission / decommission steps.
	OnCreate  []Step
	OnDestroy []Step
}

// Provides reports whether the descriptor advertises t.
func (d *ComponentDescriptor) Provides(t ServiceType) bool {
	for _, s := range d.Services {
		if s == t {
			return true
		}
	}
	return false
}

// Property returns an extended property.
func (d *ComponentDescriptor) Property(key string) (any, bool) {
	v, ok := d.ExtendedProperties[key]
	return v, ok
}

func (d *ComponentDescriptor) clone() *ComponentDescriptor {
	c := *d
	c.Services = append([]ServiceType(nil), d.Services...)
	c.Dependencies = append([]DependencyModel(nil), d.Dependencies...)
	c.OnCreate = append([]Step(nil), d.OnCreate...)
	c.OnDestroy = append([]Step(nil), d.OnDestroy...)
	c.Parameters = maps.Clone(d.Parameters)
	c.ExtendedProperties = maps.Clone(d.ExtendedProperties)
	return &c
}
