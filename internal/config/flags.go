package config

import (
	"flag"
	"fmt"

	"grimm.is/mptcpd/internal/brand"
)

// Flags holds command line overrides.
type Flags struct {
	ConfigFile  string
	Debug       bool
	Log         string
	PluginDir   string
	PathManager string
	KernelAPI   string
}

// RegisterFlags defines the daemon's configuration flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigFile, "config", brand.GetConfigFile(), "configuration file")
	fs.BoolVar(&f.Debug, "debug", false, "enable debug log messages")
	fs.BoolVar(&f.Debug, "d", false, "shorthand for -debug")
	fs.StringVar(&f.Log, "log", "", "log destination: stderr, syslog, journal, null or syslog://host:port")
	fs.StringVar(&f.Log, "l", "", "shorthand for -log")
	fs.StringVar(&f.PluginDir, "plugin-dir", "", "directory to load path manager plugins from")
	fs.StringVar(&f.PathManager, "path-manager", "", "default path manager plugin name")
	fs.StringVar(&f.KernelAPI, "kernel-api", "", "kernel MPTCP API: upstream or mptcp.org")
	return f
}

// Apply overlays the flags that were set on fs onto cfg. Explicitly empty
// string values are rejected.
func (f *Flags) Apply(fs *flag.FlagSet, cfg *Config) error {
	var err error
	fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "log", "l":
			if f.Log == "" {
				err = fmt.Errorf("-%s: empty log destination", fl.Name)
				return
			}
			if cfg.Log == nil {
				cfg.Log = &LogConfig{}
			}
			cfg.Log.Destination = f.Log
		case "plugin-dir":
			if f.PluginDir == "" {
				err = fmt.Errorf("-plugin-dir: empty plugin directory")
				return
			}
			cfg.PluginDir = f.PluginDir
		case "path-manager":
			if f.PathManager == "" {
				err = fmt.Errorf("-path-manager: empty plugin name")
				return
			}
			cfg.PathManager = f.PathManager
		case "kernel-api":
			if f.KernelAPI == "" {
				err = fmt.Errorf("-kernel-api: empty value")
				return
			}
			cfg.KernelAPI = f.KernelAPI
		}
	})
	if err != nil {
		return err
	}
	if f.Debug {
		if cfg.Log == nil {
			cfg.Log = &LogConfig{}
		}
		cfg.Log.Level = "debug"
	}
	return nil
}

// Load reads the configuration file named by the flags and applies the
// remaining overrides on top.
func (f *Flags) Load(fs *flag.FlagSet) (*LoadResult, error) {
	res, err := LoadFile(f.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := f.Apply(fs, res.Config); err != nil {
		return nil, err
	}
	if errs := Validate(res.Config); errs.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %w", errs)
	}
	return res, nil
}
