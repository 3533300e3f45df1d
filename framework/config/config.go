package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the central typed configuration struct.
type Config struct {
	App         AppConfig
	Kernel      KernelConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Diagnostics DiagnosticsConfig
}

type AppConfig struct {
	Name  string `validate:"required"`
	Env   string `validate:"oneof=local production testing"`
	Debug bool
}

// KernelConfig holds the pool defaults applied to pooled components that
// leave their own pool options zero, and the bound on waiting for an
// instance another activation is building.
type KernelConfig struct {
	PoolMin           int           `validate:"gte=0,ltefield=PoolMax"`
	PoolMax           int           `validate:"gte=1"`
	PoolPolicy        string        `validate:"oneof=block failfast"`
	PoolTimeout       time.Duration `validate:"gte=0"`
	ActivationTimeout time.Duration `validate:"gte=0"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=console json"`
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string `validate:"required_if=Enabled true"`
}

type DiagnosticsConfig struct {
	Enabled bool
	Addr    string `validate:"required_if=Enabled true"`
}

// Load reads .env (if present) and populates a Config from environment
// variables. Variables already set in the environment win over the file.
//
//	cfg := config.Load()
func Load(envFiles ...string) *Config {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	return &Config{
		App: AppConfig{
			Name:  env("APP_NAME", "microkernel"),
			Env:   env("APP_ENV", "local"),
			Debug: envBool("APP_DEBUG", true),
		},
		Kernel: KernelConfig{
			PoolMin:           GetInt("KERNEL_POOL_MIN", 0),
			PoolMax:           GetInt("KERNEL_POOL_MAX", 8),
			PoolPolicy:        env("KERNEL_POOL_POLICY", "block"),
			PoolTimeout:       GetDuration("KERNEL_POOL_TIMEOUT", 5*time.Second),
			ActivationTimeout: GetDuration("KERNEL_ACTIVATION_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "console"),
		},
		Metrics: MetricsConfig{
			Enabled:   envBool("METRICS_ENABLED", true),
			Namespace: env("METRICS_NAMESPACE", "microkernel"),
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: envBool("DIAGNOSTICS_ENABLED", true),
			Addr:    env("DIAGNOSTICS_ADDR", ":9090"),
		},
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.App.Env == "production" }

// Get returns a raw env value, falling back to defaultVal.
func Get(key, defaultVal string) string {
	return env(key, defaultVal)
}

// GetInt returns an int env value.
func GetInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// GetBool returns a bool env value.
func GetBool(key string, defaultVal bool) bool {
	return envBool(key, defaultVal)
}

// GetDuration returns a time.Duration env value ("500ms", "2s").
func GetDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// ── helpers ─────────────────────────────────────────────────────────────────

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
