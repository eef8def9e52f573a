package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. Development mode switches to the console
// encoder with stack traces on warnings.
func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		zc.Level = level
	}
	return zc.Build()
}
