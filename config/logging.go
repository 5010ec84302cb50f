package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildLogger constructs a zap logger from the logging configuration.
func BuildLogger(cfg *LoggingConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &LoggingConfig{}
	}
	cfg.SetDefaults()

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, NewConfigError("logging.level", fmt.Sprintf("unknown level %q", cfg.Level))
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = cfg.Format
	zc.OutputPaths = []string{cfg.Output}
	zc.ErrorOutputPaths = []string{cfg.Output}
	if cfg.Format == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
