// Command catalogd runs the catalog service daemon: the workflow
// executor, cron scheduler, event trigger processor, and asset
// materializer, exposed over an HTTP control plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowforge/catalog/internal/config"
	"github.com/flowforge/catalog/internal/daemon"
	"github.com/flowforge/catalog/internal/log"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file")
		backendType = flag.String("backend", "", "Record store backend (memory, sqlite)")
		storeDSN    = flag.String("store-dsn", "", "Store data source name")
		socketPath  = flag.String("socket", "", "Unix socket path")
		tcpAddr     = flag.String("addr", "", "TCP address to listen on")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("catalogd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if *backendType != "" {
		cfg.Store.Backend = *backendType
	}
	if *storeDSN != "" {
		cfg.Store.DSN = *storeDSN
	}
	if *socketPath != "" {
		cfg.Listen.SocketPath = *socketPath
	}
	if *tcpAddr != "" {
		cfg.Listen.Addr = *tcpAddr
	}

	d, err := daemon.New(cfg, daemon.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}, logger)
	if err != nil {
		logger.Error("failed to create daemon", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", "error", err)
			os.Exit(1)
		}
	}
}
