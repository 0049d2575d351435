// Package main implements the hayabusa worker: it pulls search commands
// from the broker, runs them on a fixed pool of executors, and streams the
// results back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hayabusa-search/hayabusa/internal/app"
	"github.com/hayabusa-search/hayabusa/internal/config"
	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

const exitConfig = 3

func main() {
	var (
		configFile  string
		brokerAddr  string
		metricsAddr string
		processes   int
		bashPath    string
		hostname    string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("hayabusa-worker", pflag.ContinueOnError)
	flagSet.StringVarP(&configFile, "config", "c", "", "path to configuration file (YAML or JSON)")
	flagSet.StringVar(&brokerAddr, "broker", "", "broker gRPC address")
	flagSet.StringVar(&metricsAddr, "metrics-addr", "", "HTTP address serving /metrics (empty disables)")
	flagSet.IntVarP(&processes, "processes", "p", 0, "number of parallel executors")
	flagSet.StringVar(&bashPath, "bash", "", "shell used to run commands")
	flagSet.StringVar(&hostname, "hostname", "", "hostname used in worker labels")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "show version information")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "hayabusa-worker - distributed time-ranged log search worker\n\n")
		fmt.Fprintf(os.Stderr, "Usage: hayabusa-worker [flags]\n\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("hayabusa-worker version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(exitConfig)
		}
	}
	config.LoadFromEnv(cfg)
	if brokerAddr != "" {
		cfg.Worker.BrokerAddr = brokerAddr
	}
	if metricsAddr != "" {
		cfg.Worker.MetricsAddr = metricsAddr
	}
	if flagSet.Changed("processes") {
		cfg.Worker.Processes = processes
	}
	if bashPath != "" {
		cfg.Worker.BashPath = bashPath
	}
	if hostname != "" {
		cfg.Worker.Hostname = hostname
	}
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}

	logger := logging.New(os.Stderr, cfg.General.LogLevel).With("service", "hayabusa-worker")

	w, err := app.NewWorker(cfg, logger)
	if err != nil {
		logger.Error("failed to create worker", "error", err)
		if herrors.IsConfig(err) {
			os.Exit(exitConfig)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := w.Run(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
