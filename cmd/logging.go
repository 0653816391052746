package cmd

import (
	"fmt"
	"io"

	"grimm.is/mptcpd/internal/brand"
	"grimm.is/mptcpd/internal/config"
	"grimm.is/mptcpd/internal/logging"
)

// setupLogging builds the daemon logger from cfg and installs it as the
// default. The returned closer releases the log destination.
func setupLogging(cfg *config.LogConfig) (*logging.Logger, io.Closer, error) {
	if cfg == nil {
		cfg = config.Default().Log
	}
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	out, closer, err := logging.Open(cfg.Destination, brand.LowerName)
	if err != nil {
		return nil, nil, fmt.Errorf("open log destination: %w", err)
	}

	logging.SetProcessName(brand.LowerName)
	logger := logging.New(logging.Config{
		Level:  level,
		Output: out,
		JSON:   cfg.JSON,
	})
	logging.SetDefault(logger)
	return logger, closer, nil
}
