package providers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/km-arc/go-microkernel/framework/config"
	"github.com/km-arc/go-microkernel/framework/conversion"
	"github.com/km-arc/go-microkernel/framework/diagnostics"
	"github.com/km-arc/go-microkernel/framework/kernel"
	"github.com/km-arc/go-microkernel/framework/metrics"
	"github.com/km-arc/go-microkernel/framework/providers"
)

func testConfig() *config.Config {
	return &config.Config{
		App:         config.AppConfig{Name: "test", Env: "testing"},
		Kernel:      config.KernelConfig{PoolMax: 4, PoolPolicy: "block"},
		Log:         config.LogConfig{Level: "debug", Format: "json"},
		Metrics:     config.MetricsConfig{Enabled: true, Namespace: "svc"},
		Diagnostics: config.DiagnosticsConfig{Enabled: true, Addr: ":0"},
	}
}

// ── ConfigInstaller ───────────────────────────────────────────────────────────

func TestConfigInstaller_RegistersConfig(t *testing.T) {
	k := kernel.New()
	cfg := testConfig()
	require.NoError(t, k.Install(&providers.ConfigInstaller{Config: cfg}))

	got, err := kernel.Resolve[*config.Config](k, providers.ConfigComponent)
	require.NoError(t, err)
	assert.Same(t, cfg, got)

	byType, err := kernel.ResolveService[*config.Config](k)
	require.NoError(t, err)
	assert.Same(t, cfg, byType)

	h, err := k.GetHandler(providers.ConfigComponent)
	require.NoError(t, err)
	assert.Equal(t, []string{"validate"}, h.CommissionSteps(), "Config is Validatable")
}

func TestConfigInstaller_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Kernel.PoolPolicy = "queue"

	k := kernel.New()
	assert.Error(t, k.Install(&providers.ConfigInstaller{Config: cfg}))
	assert.False(t, k.HasComponent(providers.ConfigComponent))
}

// ── LoggingInstaller ──────────────────────────────────────────────────────────

func TestLoggingInstaller_UsesGivenLogger(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	k := kernel.New()
	require.NoError(t, k.Install(&providers.LoggingInstaller{Logger: logger}))

	got, err := kernel.Resolve[*zap.Logger](k, providers.LoggerComponent)
	require.NoError(t, err)
	assert.Same(t, logger, got)
	assert.NoError(t, k.Dispose(), "sync on an observer core succeeds")
}

func TestLoggingInstaller_BuildsFromConfig(t *testing.T) {
	k := kernel.New()
	require.NoError(t, k.Install(&providers.LoggingInstaller{}))

	h, err := k.GetHandler(providers.LoggerComponent)
	require.NoError(t, err)
	assert.Equal(t, kernel.WaitingDependency, h.State(), "waits for config")

	require.NoError(t, k.Install(&providers.ConfigInstaller{Config: testConfig()}))
	assert.Equal(t, kernel.Valid, h.State())

	logger, err := kernel.Resolve[*zap.Logger](k, providers.LoggerComponent)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

// ── ConversionInstaller ───────────────────────────────────────────────────────

func TestConversionInstaller_IsDeferred(t *testing.T) {
	k := kernel.New()
	reg := kernel.NewInstallerRegistry(k)
	require.NoError(t, reg.Register(&providers.ConversionInstaller{}))
	require.NoError(t, reg.Boot())

	assert.False(t, k.HasComponent(providers.ConversionComponent))

	m, err := kernel.ResolveService[*conversion.Manager](k)
	require.NoError(t, err)
	assert.True(t, m.CanConvert(kernel.ServiceOf[int]()))
	assert.True(t, k.HasComponent(providers.ConversionComponent))
}

// ── MetricsInstaller ──────────────────────────────────────────────────────────

func TestMetricsInstaller_AttachesOnBoot(t *testing.T) {
	k := kernel.New()
	require.NoError(t, k.Install(
		&providers.ConfigInstaller{Config: testConfig()},
		&providers.MetricsInstaller{},
	))

	c, err := kernel.Resolve[*metrics.Collector](k, providers.MetricsComponent)
	require.NoError(t, err)

	_, err = kernel.Component("extra").Instance(struct{}{}).Register(k)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Registrations))
}

func TestMetricsInstaller_BootFailsWithoutConfig(t *testing.T) {
	k := kernel.New()
	err := k.Install(&providers.MetricsInstaller{})
	assert.ErrorIs(t, err, kernel.ErrHandlerNotReady)
}

// ── DiagnosticsInstaller ──────────────────────────────────────────────────────

func TestDiagnosticsInstaller_MountsMetricsWhenAvailable(t *testing.T) {
	tests := []struct {
		name       string
		installers []kernel.Installer
		metrics    int
	}{
		{
			name: "with metrics",
			installers: []kernel.Installer{
				&providers.ConfigInstaller{Config: testConfig()},
				&providers.LoggingInstaller{Logger: zap.NewNop()},
				&providers.MetricsInstaller{},
				&providers.DiagnosticsInstaller{},
			},
			metrics: http.StatusOK,
		},
		{
			name: "without metrics",
			installers: []kernel.Installer{
				&providers.LoggingInstaller{Logger: zap.NewNop()},
				&providers.DiagnosticsInstaller{},
			},
			metrics: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := kernel.New()
			require.NoError(t, k.Install(tt.installers...))

			srv, err := kernel.Resolve[*diagnostics.Server](k, providers.DiagnosticsComponent)
			require.NoError(t, err)

			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			assert.Equal(t, tt.metrics, rr.Code)

			rr = httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/components/"+providers.DiagnosticsComponent, nil))
			assert.Equal(t, http.StatusOK, rr.Code)
		})
	}
}
