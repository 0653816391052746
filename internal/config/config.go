package config

import (
	"time"

	"grimm.is/mptcpd/internal/brand"
)

// Config is the complete daemon configuration.
type Config struct {
	PluginDir     string         `hcl:"plugin_dir,optional"`
	PathManager   string         `hcl:"path_manager,optional"`
	KernelAPI     string         `hcl:"kernel_api,optional"`
	FamilyTimeout string         `hcl:"family_timeout,optional"`
	Log           *LogConfig     `hcl:"log,block"`
	Metrics       *MetricsConfig `hcl:"metrics,block"`
}

// LogConfig selects log verbosity and destination.
type LogConfig struct {
	Level       string `hcl:"level,optional"`
	Destination string `hcl:"destination,optional"`
	JSON        bool   `hcl:"json,optional"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional"`
	Path   string `hcl:"path,optional"`
}

// DefaultFamilyTimeout is how long to wait for the kernel MPTCP family
// before warning that it has not appeared.
const DefaultFamilyTimeout = 10 * time.Second

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PluginDir:     brand.GetPluginDir(),
		PathManager:   brand.DefaultPathManager,
		FamilyTimeout: DefaultFamilyTimeout.String(),
		Log: &LogConfig{
			Level:       "info",
			Destination: "stderr",
		},
		Metrics: &MetricsConfig{
			Path: "/metrics",
		},
	}
}

// FamilyTimeoutDuration returns the parsed family timeout. Callers should
// run Validate first; an unparsable value yields the default.
func (c *Config) FamilyTimeoutDuration() time.Duration {
	if c.FamilyTimeout == "" {
		return DefaultFamilyTimeout
	}
	d, err := time.ParseDuration(c.FamilyTimeout)
	if err != nil {
		return DefaultFamilyTimeout
	}
	return d
}

// merge overlays the non-zero fields of o onto c.
func (c *Config) merge(o *Config) {
	if o.PluginDir != "" {
		c.PluginDir = o.PluginDir
	}
	if o.PathManager != "" {
		c.PathManager = o.PathManager
	}
	if o.KernelAPI != "" {
		c.KernelAPI = o.KernelAPI
	}
	if o.FamilyTimeout != "" {
		c.FamilyTimeout = o.FamilyTimeout
	}
	if o.Log != nil {
		if c.Log == nil {
			c.Log = &LogConfig{}
		}
		if o.Log.Level != "" {
			c.Log.Level = o.Log.Level
		}
		if o.Log.Destination != "" {
			c.Log.Destination = o.Log.Destination
		}
		if o.Log.JSON {
			c.Log.JSON = true
		}
	}
	if o.Metrics != nil {
		if c.Metrics == nil {
			c.Metrics = &MetricsConfig{}
		}
		if o.Metrics.Listen != "" {
			c.Metrics.Listen = o.Metrics.Listen
		}
		if o.Metrics.Path != "" {
			c.Metrics.Path = o.Metrics.Path
		}
	}
}
