package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"grimm.is/mptcpd/internal/brand"
	"grimm.is/mptcpd/internal/config"
	"grimm.is/mptcpd/internal/mptcp"
	"grimm.is/mptcpd/internal/plugin"
)

// RunCheck validates the configuration and the plugin directory without
// touching the kernel.
func RunCheck(args []string) error {
	return runCheck(args, os.Stdout)
}

func runCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(brand.BinaryName+" check", flag.ContinueOnError)
	fs.SetOutput(out)
	flags := config.RegisterFlags(fs)
	verbose := fs.Bool("v", false, "list plugin modules")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("usage: %s check [-v] [-config file]", brand.BinaryName)
	}

	res, err := flags.Load(fs)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	cfg := res.Config

	if err := plugin.CheckDirectory(cfg.PluginDir); err != nil {
		return fmt.Errorf("plugin directory unusable: %w", err)
	}
	variant, err := mptcp.ByName(cfg.KernelAPI)
	if err != nil {
		return err
	}

	source := res.Path
	if !res.Found {
		source = "defaults (" + res.Path + " not found)"
	}

	Printer.Fprintf(out, "Configuration valid!\n")
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	Printer.Fprintf(w, "Source:\t%s\n", source)
	Printer.Fprintf(w, "Plugin directory:\t%s\n", cfg.PluginDir)
	pathManager := cfg.PathManager
	if pathManager == "" {
		pathManager = "(highest priority plugin)"
	}
	Printer.Fprintf(w, "Path manager:\t%s\n", pathManager)
	Printer.Fprintf(w, "Kernel API:\t%s (family %s)\n", variant, variant.Family)
	Printer.Fprintf(w, "Family timeout:\t%s\n", cfg.FamilyTimeoutDuration())
	if cfg.Log != nil {
		Printer.Fprintf(w, "Log:\t%s at %s\n", cfg.Log.Destination, cfg.Log.Level)
	}
	if cfg.Metrics != nil && cfg.Metrics.Listen != "" {
		Printer.Fprintf(w, "Metrics:\thttp://%s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	} else {
		Printer.Fprintf(w, "Metrics:\tdisabled\n")
	}
	w.Flush()

	modules, err := filepath.Glob(filepath.Join(cfg.PluginDir, "*.so"))
	if err != nil {
		return err
	}
	Printer.Fprintf(out, "Plugin modules: %d\n", len(modules))
	if *verbose {
		sort.Strings(modules)
		for _, m := range modules {
			Printer.Fprintf(out, "  %s\n", filepath.Base(m))
		}
	}
	return nil
}
