// Package logging builds the zap logger shared by the kernel and the
// inspection server.
//
//	logger, err := logging.New(cfg.Log, cfg.App)
//	defer logger.Sync()
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/km-arc/go-microkernel/framework/config"
)

// New returns a console (development) or JSON (production) logger at the
// configured level, tagged with the application name.
func New(lc config.LogConfig, app config.AppConfig, opts ...zap.Option) (*zap.Logger, error) {
	level, err := ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if lc.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Development = app.Debug
	zc.InitialFields = map[string]any{"app": app.Name, "env": app.Env}

	logger, err := zc.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger, nil
}

// ParseLevel maps "debug", "info", "warn" and "error" onto zap levels.
// An empty string is info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zap.DebugLevel, nil
	case "", "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	}
	return zap.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
}
