// Package main implements the hayabusa broker: it accepts search
// submissions, dispatches commands to workers, collects their results, and
// delivers the consolidated answer to each request's callback address.
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

// exitConfig is the exit status for configuration and user list failures.
const exitConfig = 3

func main() {
	var (
		configFile  string
		listenAddr  string
		metricsAddr string
		usersFile   string
		baseDir     string
		engine      string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("hayabusa-broker", pflag.ContinueOnError)
	flagSet.StringVarP(&configFile, "config", "c", "", "path to configuration file (YAML or JSON)")
	flagSet.StringVar(&listenAddr, "listen", "", "gRPC address for workers and submitters")
	flagSet.StringVar(&metricsAddr, "metrics-addr", "", "HTTP address serving /metrics (empty disables)")
	flagSet.StringVar(&usersFile, "users", "", "path to the user list (default: <base-dir>/../users.yml)")
	flagSet.StringVar(&baseDir, "base-dir", "", "shard store root; each user has a subdirectory")
	flagSet.StringVar(&engine, "engine", "", "shard query command: sqlite3 or native")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "show version information")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "hayabusa-broker - distributed time-ranged log search broker\n\n")
		fmt.Fprintf(os.Stderr, "Usage: hayabusa-broker [flags]\n\n")
		flagSet.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables use the HAYABUSA_ prefix, e.g. HAYABUSA_BASE_DIR.\n")
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if showVersion {
		fmt.Printf("hayabusa-broker version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitConfig)
	}
	if listenAddr != "" {
		cfg.Broker.ListenAddr = listenAddr
	}
	if metricsAddr != "" {
		cfg.Broker.MetricsAddr = metricsAddr
	}
	if usersFile != "" {
		cfg.Broker.UsersFile = usersFile
	}
	if baseDir != "" {
		cfg.Search.BaseDir = baseDir
	}
	if engine != "" {
		cfg.Search.Engine = config.Engine(engine)
	}
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}

	logger := logging.New(os.Stderr, cfg.General.LogLevel).With("service", "hayabusa-broker")

	b, err := app.NewBroker(cfg, logger)
	if err != nil {
		logger.Error("failed to create broker", "error", err)
		if herrors.IsConfig(err) {
			os.Exit(exitConfig)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := b.Start(ctx); err != nil {
		logger.Error("failed to start broker", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	if err := b.Stop(); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// loadConfig builds the configuration from defaults or a file, then the
// environment. Flags are applied by the caller.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
