package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/km-arc/go-microkernel/framework/config"
	"github.com/km-arc/go-microkernel/framework/conversion"
	"github.com/km-arc/go-microkernel/framework/diagnostics"
	"github.com/km-arc/go-microkernel/framework/kernel"
	"github.com/km-arc/go-microkernel/framework/logging"
	"github.com/km-arc/go-microkernel/framework/providers"
)

// Application is the top-level bootstrap. It embeds the Kernel so user code
// can call app.Register(), app.Resolve() directly, and owns the installer
// registry, configuration and logger.
//
//	a, err := app.New()
//	if err != nil { ... }
//	a.Use(&OrdersInstaller{})
//	err = a.Run(ctx)
type Application struct {
	*kernel.Kernel
	Installers *kernel.InstallerRegistry

	cfg    *config.Config
	logger *zap.Logger
}

// New loads configuration from envFiles and bootstraps the application.
func New(envFiles ...string) (*Application, error) {
	return NewWithConfig(config.Load(envFiles...))
}

// NewWithConfig bootstraps the application from an already loaded config.
// The framework installers are registered in order: config, logger,
// conversion, then metrics and diagnostics when enabled.
func NewWithConfig(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}
	logger, err := logging.New(cfg.Log, cfg.App)
	if err != nil {
		return nil, err
	}

	converter := conversion.New()
	k := kernel.New(
		kernel.WithLogger(logger.Named("kernel")),
		kernel.WithConverter(converter),
		kernel.WithPoolDefaults(PoolDefaults(cfg.Kernel)),
		kernel.WithActivationTimeout(cfg.Kernel.ActivationTimeout),
	)

	a := &Application{
		Kernel:     k,
		Installers: kernel.NewInstallerRegistry(k),
		cfg:        cfg,
		logger:     logger,
	}

	core := []kernel.Installer{
		&providers.ConfigInstaller{Config: cfg},
		&providers.LoggingInstaller{Logger: logger},
		&providers.ConversionInstaller{Manager: converter},
	}
	if cfg.Metrics.Enabled {
		core = append(core, &providers.MetricsInstaller{Runtime: !cfg.App.Debug})
	}
	if cfg.Diagnostics.Enabled {
		core = append(core, &providers.DiagnosticsInstaller{})
	}
	for _, inst := range core {
		if err := a.Use(inst); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// PoolDefaults maps the KERNEL_POOL_* settings onto kernel pool options.
func PoolDefaults(kc config.KernelConfig) kernel.PoolOptions {
	return kernel.PoolOptions{
		MinSize: kc.PoolMin,
		MaxSize: kc.PoolMax,
		Policy:  kernel.PoolPolicy(kc.PoolPolicy),
		Timeout: kc.PoolTimeout,
	}
}

// Use adds an installer. Eager installers are installed immediately.
func (a *Application) Use(inst kernel.Installer) error {
	return a.Installers.Register(inst)
}

// Boot runs the Boot phase on every installer.
func (a *Application) Boot() error {
	return a.Installers.Boot()
}

// Config returns the application configuration.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the root logger.
func (a *Application) Logger() *zap.Logger { return a.logger }

// Run boots the application (if needed), serves diagnostics when enabled and
// blocks until ctx is cancelled. The kernel is disposed before Run returns.
func (a *Application) Run(ctx context.Context) (err error) {
	defer func() { err = multierr.Append(err, a.Dispose()) }()

	if !a.Installers.Booted() {
		if err := a.Boot(); err != nil {
			return err
		}
	}

	a.logger.Info("application started",
		zap.Int("components", len(a.Handlers())),
		zap.Int("waiting", len(a.WaitingHandlers())),
	)
	for _, h := range a.WaitingHandlers() {
		a.logger.Warn("component waiting for dependencies",
			zap.String("component", h.Name()),
			zap.Stringers("missing", h.MissingDependencies()),
		)
	}

	if !a.cfg.Diagnostics.Enabled {
		<-ctx.Done()
		return nil
	}
	srv, err := kernel.Resolve[*diagnostics.Server](a.Kernel, providers.DiagnosticsComponent)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, a.cfg.Diagnostics.Addr)
}

// Dispose decommissions every component. Safe to call more than once.
func (a *Application) Dispose() error {
	start := time.Now()
	if err := a.Kernel.Dispose(); err != nil {
		a.logger.Warn("dispose finished with errors", zap.Error(err))
		return err
	}
	a.logger.Debug("application disposed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Environment returns APP_ENV value.
func (a *Application) Environment() string { return a.cfg.App.Env }
func (a *Application) IsLocal() bool       { return a.Environment() == "local" }
func (a *Application) IsProduction() bool  { return a.Environment() == "production" }
func (a *Application) IsTesting() bool     { return a.Environment() == "testing" }
func (a *Application) IsDebug() bool       { return a.cfg.App.Debug }
