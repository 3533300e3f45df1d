// Package kernel is an inversion-of-control micro-kernel: a registry of
// components, each wrapped in a Handler that tracks whether its
// dependencies can be satisfied and that owns the caching policy
// (lifestyle) of its instances.
//
// # Overview
//
// A component is declared with a ComponentDescriptor: a unique name, the
// services it advertises, an Implementation (a factory), a lifestyle, its
// dependencies and optional configuration literals. Go has no constructor
// reflection, so factories receive an *Activation holding the resolved
// dependencies instead of being auto-wired.
//
// # Kernel Lifecycle
//
//  1. Create: k := kernel.New(kernel.WithLogger(log))
//  2. Register components directly, with Component(...), or via Installers
//  3. Resolve / ResolveAll / Release
//  4. Dispose: decommissions everything in reverse registration order
//
// # Handler States
//
// Registration never fails because a dependency is missing. The handler is
// parked in WaitingDependency and promoted to Valid as soon as something
// that satisfies it is registered, transitively:
//
//	k.Register(app)    // app needs "db"       -> waiting
//	k.Register(db)     // db needs nothing     -> valid, app -> valid
//
// Removing "db" again moves "app" back to waiting. An activation failure
// (factory error or panic, proxy error, commission error) moves the handler
// to Invalid for good; later resolves return the same failure.
//
// # Registering
//
//	kernel.Component("db").
//	    For(kernel.ServiceOf[*sql.DB]()).
//	    ImplementedBy(kernel.Construct(func(a *kernel.Activation) (*sql.DB, error) {
//	        dsn, err := kernel.Arg[string](a, "dsn")
//	        if err != nil {
//	            return nil, err
//	        }
//	        return sql.Open("postgres", dsn)
//	    })).
//	    DependsOn(kernel.Param("dsn", "")).
//	    Parameter("dsn", os.Getenv("DATABASE_URL")).
//	    Register(k)
//
// # Resolving
//
//	// By name, or by service key (first valid handler in registration order)
//	db, err := kernel.Resolve[*sql.DB](k, "db")
//	db, err  = kernel.ResolveService[*sql.DB](k)
//
//	// Every valid handler of a service, parents included
//	plugins, err := kernel.ResolveAllOf[Plugin](k, kernel.ServiceOf[Plugin]())
//
//	// Per-call overrides win over every other source
//	v, err := k.Resolve("mailer", kernel.WithOverride("host", "localhost"))
//
// # Lifestyles
//
//	Singleton   one instance per handler, built on first resolve
//	Transient   a new instance per resolve; Release decommissions it
//	PerThread   one instance per execution-context key (WithContextKey)
//	Pooled      bounded pool; Release returns the instance to the pool
//	Custom      a caller-supplied LifestyleManager
//
// # Lifecycle
//
// Instances implementing Initializer and Validatable are commissioned in
// that order after construction; Disposable and io.Closer are
// decommissioned when the instance leaves its lifestyle. Declared OnCreate
// steps run after the built-in ones, OnDestroy steps before them.
//
// # Errors
//
// Every error is a *Error carrying a Code; match with errors.Is against
// the Err* sentinels:
//
//	if errors.Is(err, kernel.ErrHandlerNotReady) {
//	    var kerr *kernel.Error
//	    errors.As(err, &kerr)
//	    for _, m := range kerr.Missing {
//	        log.Println("missing", m)
//	    }
//	}
//
// # Installers
//
//	registry := kernel.NewInstallerRegistry(k)
//	registry.Register(&StorageInstaller{})
//	registry.Register(&ReportingInstaller{}) // deferred: installed on first resolve
//	registry.Boot()
package kernel
