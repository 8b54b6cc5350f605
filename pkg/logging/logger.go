// Package logging provides the zap logger setup and log sanitization helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the process-wide zap logger. Production environments get JSON
// output at INFO; local and test environments get the development console
// encoder at DEBUG.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "local", "test":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
