package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/opendeepresearch/taskstream/internal/app"
	"github.com/opendeepresearch/taskstream/internal/config"
	"github.com/opendeepresearch/taskstream/internal/health"
)

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("taskstreamd: invalid log level %q: %w", cfg.Level, err)
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func healthHTTPHandler(container *app.App) *health.HTTPHandler {
	return health.NewHTTPHandler(container.Health, container.Logger)
}
