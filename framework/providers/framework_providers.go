package providers

import (
	"errors"
	"syscall"

	"go.uber.org/zap"

	"github.com/km-arc/go-microkernel/framework/config"
	"github.com/km-arc/go-microkernel/framework/conversion"
	"github.com/km-arc/go-microkernel/framework/diagnostics"
	"github.com/km-arc/go-microkernel/framework/kernel"
	"github.com/km-arc/go-microkernel/framework/logging"
	"github.com/km-arc/go-microkernel/framework/metrics"
)

// Component names registered by the built-in installers.
const (
	ConfigComponent      = "config"
	LoggerComponent      = "logger"
	ConversionComponent  = "conversion"
	MetricsComponent     = "metrics"
	DiagnosticsComponent = "diagnostics"
)

var (
	configType      = kernel.ServiceOf[*config.Config]()
	loggerType      = kernel.ServiceOf[*zap.Logger]()
	conversionType  = kernel.ServiceOf[*conversion.Manager]()
	metricsType     = kernel.ServiceOf[*metrics.Collector]()
	diagnosticsType = kernel.ServiceOf[*diagnostics.Server]()
)

// ── ConfigInstaller ───────────────────────────────────────────────────────────

// ConfigInstaller registers the application configuration.
//
// Registered components:
//   - "config"  → *config.Config
//
// Config is used as-is when set; otherwise EnvFiles are loaded and
// validated.
type ConfigInstaller struct {
	kernel.BaseInstaller
	Config   *config.Config
	EnvFiles []string
}

func (i *ConfigInstaller) Install(k *kernel.Kernel) error {
	cfg := i.Config
	if cfg == nil {
		cfg = config.Load(i.EnvFiles...)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := kernel.Component(ConfigComponent).
		For(configType).
		Instance(cfg).
		Register(k)
	return err
}

// ── LoggingInstaller ──────────────────────────────────────────────────────────

// LoggingInstaller registers the zap logger.
//
// Registered components:
//   - "logger"  → *zap.Logger, flushed on decommission
//
// Logger is registered as-is when set; otherwise one is built from the
// "config" component.
type LoggingInstaller struct {
	kernel.BaseInstaller
	Logger *zap.Logger
}

func (i *LoggingInstaller) Install(k *kernel.Kernel) error {
	b := kernel.Component(LoggerComponent).
		For(loggerType).
		OnDestroy("sync", syncLogger)

	if i.Logger != nil {
		b = b.Instance(i.Logger)
	} else {
		b = b.DependsOn(kernel.NeedsNamed(ConfigComponent, configType)).
			ImplementedBy(kernel.Construct(func(a *kernel.Activation) (*zap.Logger, error) {
				cfg, err := kernel.Arg[*config.Config](a, ConfigComponent)
				if err != nil {
					return nil, err
				}
				return logging.New(cfg.Log, cfg.App)
			}))
	}
	_, err := b.Register(k)
	return err
}

// syncLogger flushes buffered entries. Syncing a terminal fails with EINVAL
// or ENOTTY on some platforms; that is not worth reporting.
func syncLogger(instance any) error {
	err := instance.(*zap.Logger).Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

// ── ConversionInstaller ───────────────────────────────────────────────────────

// ConversionInstaller exposes the literal converter as a component so
// installers can register application types on it. It is deferred: the
// manager is only registered the first time someone resolves it.
//
// Registered components:
//   - "conversion"  → *conversion.Manager
type ConversionInstaller struct {
	kernel.BaseInstaller
	Manager *conversion.Manager
}

func (i *ConversionInstaller) Install(k *kernel.Kernel) error {
	m := i.Manager
	if m == nil {
		m = conversion.New()
	}
	_, err := kernel.Component(ConversionComponent).
		For(conversionType).
		Instance(m).
		Register(k)
	return err
}

func (i *ConversionInstaller) IsDeferred() bool { return true }
func (i *ConversionInstaller) Provides() []string {
	return []string{ConversionComponent, conversionType.String()}
}

// ── MetricsInstaller ──────────────────────────────────────────────────────────

// MetricsInstaller registers a Prometheus collector and attaches it to the
// kernel on Boot.
//
// Registered components:
//   - "metrics"  → *metrics.Collector
//
// Configuration read from "config":
//   - Metrics.Namespace
type MetricsInstaller struct {
	kernel.BaseInstaller
	// Runtime adds the Go runtime and process collectors.
	Runtime bool
}

func (i *MetricsInstaller) Install(k *kernel.Kernel) error {
	_, err := kernel.Component(MetricsComponent).
		For(metricsType).
		DependsOn(kernel.NeedsNamed(ConfigComponent, configType)).
		ImplementedBy(kernel.Construct(func(a *kernel.Activation) (*metrics.Collector, error) {
			cfg, err := kernel.Arg[*config.Config](a, ConfigComponent)
			if err != nil {
				return nil, err
			}
			return metrics.NewCollector(cfg.Metrics.Namespace, i.Runtime), nil
		})).
		Register(k)
	return err
}

func (i *MetricsInstaller) Boot(k *kernel.Kernel) error {
	c, err := kernel.Resolve[*metrics.Collector](k, MetricsComponent)
	if err != nil {
		return err
	}
	return c.Attach(k)
}

// ── DiagnosticsInstaller ──────────────────────────────────────────────────────

// DiagnosticsInstaller registers the inspection server. The "metrics"
// component is optional; when present its scrape handler is mounted.
//
// Registered components:
//   - "diagnostics"  → *diagnostics.Server
type DiagnosticsInstaller struct {
	kernel.BaseInstaller
}

func (i *DiagnosticsInstaller) Install(k *kernel.Kernel) error {
	_, err := kernel.Component(DiagnosticsComponent).
		For(diagnosticsType).
		DependsOn(
			kernel.NeedsNamed(LoggerComponent, loggerType),
			kernel.NeedsNamed(MetricsComponent, metricsType).AsOptional(),
		).
		ImplementedBy(kernel.Construct(func(a *kernel.Activation) (*diagnostics.Server, error) {
			logger, err := kernel.Arg[*zap.Logger](a, LoggerComponent)
			if err != nil {
				return nil, err
			}
			opts := []diagnostics.Option{diagnostics.WithLogger(logger.Named("diagnostics"))}
			if c, ok := kernel.OptionalArg[*metrics.Collector](a, MetricsComponent); ok {
				opts = append(opts, diagnostics.WithMetrics(c.Handler()))
			}
			return diagnostics.New(a.Kernel(), opts...), nil
		})).
		Register(k)
	return err
}
