package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/internal/mptcp"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks cfg for values the daemon cannot run with.
func Validate(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.PluginDir == "" {
		add("plugin_dir", "must not be empty")
	}
	if _, err := mptcp.ByName(cfg.KernelAPI); err != nil {
		add("kernel_api", "%v", err)
	}
	if cfg.FamilyTimeout != "" {
		d, err := time.ParseDuration(cfg.FamilyTimeout)
		if err != nil {
			add("family_timeout", "invalid duration %q", cfg.FamilyTimeout)
		} else if d < 0 {
			add("family_timeout", "must not be negative")
		}
	}
	if cfg.Log != nil {
		if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
			add("log.level", "%v", err)
		}
		if !logging.ValidDestination(cfg.Log.Destination) {
			add("log.destination", "unknown destination %q", cfg.Log.Destination)
		}
	}
	if cfg.Metrics != nil && cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			add("metrics.listen", "invalid address %q", cfg.Metrics.Listen)
		}
		if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
			add("metrics.path", "must start with /")
		}
	}
	return errs
}
