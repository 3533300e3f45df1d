package kernel

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ── Installer interface ───────────────────────────────────────────────────────

// Installer groups related registrations.
//
// Install registers components. Boot runs after every eager installer has
// been installed, so it may resolve components registered by others.
//
//	type StorageInstaller struct{ kernel.BaseInstaller }
//
//	func (StorageInstaller) Install(k *kernel.Kernel) error {
//	    _, err := kernel.Component("store").
//	        ImplementedBy(kernel.Construct(newStore)).
//	        Register(k)
//	    return err
//	}
type Installer interface {
	Install(k *Kernel) error
	Boot(k *Kernel) error

	// Provides lists the component names or service keys a deferred
	// installer registers. Ignored for eager installers.
	Provides() []string

	// IsDeferred makes the installer lazy: it is installed the first time
	// one of its Provides keys is resolved.
	IsDeferred() bool
}

// BaseInstaller provides no-op Boot, Provides and IsDeferred. Embed it and
// implement Install.
type BaseInstaller struct{}

func (BaseInstaller) Boot(*Kernel) error { return nil }
func (BaseInstaller) Provides() []string { return nil }
func (BaseInstaller) IsDeferred() bool   { return false }

// Install runs Install then Boot on every installer, immediately and in
// order, regardless of IsDeferred. Use an InstallerRegistry for deferred
// loading.
func (k *Kernel) Install(installers ...Installer) error {
	for _, inst := range installers {
		if err := inst.Install(k); err != nil {
			return fmt.Errorf("install %T: %w", inst, err)
		}
	}
	for _, inst := range installers {
		if err := inst.Boot(k); err != nil {
			return fmt.Errorf("boot %T: %w", inst, err)
		}
	}
	return nil
}

// ── Lazy loading ──────────────────────────────────────────────────────────────

// LazyComponentLoader is consulted by Resolve when no handler matches key.
// Returning true means the loader registered something and lookup should
// be retried.
type LazyComponentLoader interface {
	Load(k *Kernel, key string) (bool, error)
}

// LazyLoaderFunc adapts a function to LazyComponentLoader.
type LazyLoaderFunc func(k *Kernel, key string) (bool, error)

func (f LazyLoaderFunc) Load(k *Kernel, key string) (bool, error) { return f(k, key) }

// ── InstallerRegistry ─────────────────────────────────────────────────────────

// InstallerRegistry installs eager installers straight away and defers the
// others until one of their keys is first resolved.
type InstallerRegistry struct {
	kernel *Kernel

	mu         sync.Mutex
	eager      []Installer
	deferred   map[string]*deferredInstall
	registered map[Installer]bool
	booted     bool
}

type deferredInstall struct {
	installer Installer
	once      sync.Once
	err       error
}

// NewInstallerRegistry creates a registry bound to k and hooks it into k's
// lazy loaders.
func NewInstallerRegistry(k *Kernel) *InstallerRegistry {
	r := &InstallerRegistry{
		kernel:     k,
		deferred:   make(map[string]*deferredInstall),
		registered: make(map[Installer]bool),
	}
	k.AddLazyLoader(r)
	return r
}

// Register adds an installer. Eager installers are installed at once, and
// booted at once if the registry has already booted. Registering the same
// installer twice is a no-op.
func (r *InstallerRegistry) Register(inst Installer) error {
	r.mu.Lock()
	if r.registered[inst] {
		r.mu.Unlock()
		return nil
	}
	r.registered[inst] = true

	if inst.IsDeferred() {
		entry := &deferredInstall{installer: inst}
		for _, key := range inst.Provides() {
			r.deferred[key] = entry
		}
		r.mu.Unlock()
		r.kernel.logger.Debug("installer deferred",
			zap.String("installer", fmt.Sprintf("%T", inst)),
			zap.Strings("provides", inst.Provides()),
		)
		return nil
	}
	booted := r.booted
	r.mu.Unlock()

	if err := inst.Install(r.kernel); err != nil {
		return fmt.Errorf("install %T: %w", inst, err)
	}

	r.mu.Lock()
	r.eager = append(r.eager, inst)
	r.mu.Unlock()

	if booted {
		if err := inst.Boot(r.kernel); err != nil {
			return fmt.Errorf("boot %T: %w", inst, err)
		}
	}
	return nil
}

// Load installs the deferred installer providing key, exactly once.
func (r *InstallerRegistry) Load(k *Kernel, key string) (bool, error) {
	r.mu.Lock()
	entry, ok := r.deferred[key]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	entry.once.Do(func() {
		inst := entry.installer
		if err := inst.Install(k); err != nil {
			entry.err = fmt.Errorf("install %T: %w", inst, err)
			return
		}
		r.mu.Lock()
		booted := r.booted
		r.mu.Unlock()
		if booted {
			if err := inst.Boot(k); err != nil {
				entry.err = fmt.Errorf("boot %T: %w", inst, err)
				return
			}
		}
		k.logger.Debug("deferred installer loaded",
			zap.String("installer", fmt.Sprintf("%T", inst)),
			zap.String("trigger", key),
		)
	})
	return true, entry.err
}

// Boot boots every eager installer once. Failures are combined.
func (r *InstallerRegistry) Boot() error {
	r.mu.Lock()
	if r.booted {
		r.mu.Unlock()
		return nil
	}
	r.booted = true
	eager := append([]Installer(nil), r.eager...)
	r.mu.Unlock()

	var errs error
	for _, inst := range eager {
		if err := inst.Boot(r.kernel); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("boot %T: %w", inst, err))
		}
	}
	return errs
}

// Booted reports whether Boot has been called.
func (r *InstallerRegistry) Booted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.booted
}

// Installers returns the eager installers in installation order.
func (r *InstallerRegistry) Installers() []Installer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Installer(nil), r.eager...)
}
