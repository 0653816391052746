package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/mptcpd/internal/brand"
	"grimm.is/mptcpd/internal/config"
	"grimm.is/mptcpd/internal/logging"
	"grimm.is/mptcpd/internal/metrics"
	"grimm.is/mptcpd/internal/mptcp"
	"grimm.is/mptcpd/internal/pm"
)

// RunDaemon parses args, starts the path manager and blocks until SIGINT or
// SIGTERM. SIGHUP rereads the configuration file and applies the new log
// level.
func RunDaemon(args []string) error {
	fs := flag.NewFlagSet(brand.BinaryName, flag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	res, err := flags.Load(fs)
	if err != nil {
		return err
	}
	cfg := res.Config

	logger, closer, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	if res.Found {
		logger.Info("loaded configuration", "path", res.Path)
	} else {
		logger.Debug("no configuration file, using defaults", "path", res.Path)
	}
	logger.Info("starting", "version", brand.Version, "commit", brand.GitCommit)

	variant, err := mptcp.ByName(cfg.KernelAPI)
	if err != nil {
		return err
	}

	msrv, err := startMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}

	p, err := pm.New(pm.Config{
		PluginDir:     cfg.PluginDir,
		DefaultPlugin: cfg.PathManager,
		Variant:       variant,
		FamilyTimeout: cfg.FamilyTimeoutDuration(),
	}, pm.WithLogger(logger), pm.WithMetrics(metrics.Get()))
	if err != nil {
		stopMetrics(msrv)
		return fmt.Errorf("unable to start path manager: %w", err)
	}
	defer p.Close()

	notify := newNotifier(logger)
	defer notify.close()

	status := fmt.Sprintf("default path manager %s, kernel API %s", p.Registry().DefaultName(), variant)
	if !p.Ready() {
		status += ", waiting for kernel family " + variant.Family
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	notify.ready("%s", status)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case err := <-errc:
			notify.stopping()
			stopMetrics(msrv)
			if err != nil && !errors.Is(err, pm.ErrClosed) {
				return fmt.Errorf("path manager stopped: %w", err)
			}
			return nil

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				notify.reloading()
				reloadLogLevel(flags, fs, logger)
				notify.ready("%s", status)
				continue
			}
			logger.Info("received signal, shutting down", "signal", sig.String())
			notify.stopping()
			cancel()
			err := <-errc
			stopMetrics(msrv)
			return err
		}
	}
}

// reloadLogLevel rereads the configuration and applies its log level. The
// rest of the configuration requires a restart.
func reloadLogLevel(flags *config.Flags, fs *flag.FlagSet, logger *logging.Logger) {
	res, err := flags.Load(fs)
	if err != nil {
		logger.Error("failed to reload configuration", "error", err)
		return
	}
	if res.Config.Log == nil {
		return
	}
	level, err := logging.ParseLevel(res.Config.Log.Level)
	if err != nil {
		logger.Error("failed to reload configuration", "error", err)
		return
	}
	logger.SetLevel(level)
	logger.Info("reloaded configuration", "path", res.Path, "level", level.String())
}

func startMetrics(cfg *config.MetricsConfig, logger *logging.Logger) (*metrics.Server, error) {
	if cfg == nil || cfg.Listen == "" {
		return nil, nil
	}
	srv, err := metrics.Listen(cfg.Listen, cfg.Path, prometheus.DefaultGatherer, logger.WithComponent("metrics"))
	if err != nil {
		return nil, fmt.Errorf("unable to listen for metrics: %w", err)
	}
	go srv.Serve()
	return srv, nil
}

func stopMetrics(srv *metrics.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
