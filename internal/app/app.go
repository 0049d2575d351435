// Package app provides the process lifecycles of the hayabusa broker and
// worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/hayabusa-search/hayabusa/internal/broker"
	"github.com/hayabusa-search/hayabusa/internal/config"
	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/internal/metrics"
	"github.com/hayabusa-search/hayabusa/internal/protocol"
	"github.com/hayabusa-search/hayabusa/internal/server"
	"github.com/hayabusa-search/hayabusa/internal/worker"
	"google.golang.org/grpc"
)

// Prepare resolves derived values and validates cfg. Failures are config
// errors.
func Prepare(cfg *config.Config) error {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return herrors.NewConfigError(herrors.CodeInvalidConfig, "invalid configuration", err)
	}
	return nil
}

// Broker runs the broker process: the gRPC service, the optional metrics
// server, and the broker's background loops.
type Broker struct {
	cfg    *config.Config
	broker *broker.Broker
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	addr     net.Addr
	shutdown *server.ShutdownManager
}

// NewBroker validates cfg and loads the user list.
func NewBroker(cfg *config.Config, logger *slog.Logger) (*Broker, error) {
	if err := Prepare(cfg); err != nil {
		return nil, err
	}
	users, err := config.LoadUsers(cfg.Broker.UsersFile)
	if err != nil {
		return nil, err
	}
	logger.Info("user list loaded", "file", cfg.Broker.UsersFile, "users", len(users))

	return &Broker{
		cfg:    cfg,
		broker: broker.New(cfg, users, logger),
		logger: logger,
	}, nil
}

// Start listens on the configured address and starts serving.
func (a *Broker) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("broker app is already running")
	}

	lis, err := net.Listen("tcp", a.cfg.Broker.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Broker.ListenAddr, err)
	}
	if err := a.broker.Start(ctx); err != nil {
		lis.Close()
		return err
	}

	a.shutdown = server.NewShutdownManager(0, a.logger)
	srv := grpc.NewServer()
	protocol.RegisterBrokerServer(srv, broker.NewService(a.broker, a.logger))
	a.shutdown.ServeGRPC("broker", srv, lis)
	if a.cfg.Broker.MetricsAddr != "" {
		a.shutdown.ServeHTTP("metrics", metrics.NewServer(a.cfg.Broker.MetricsAddr))
	}
	// Closed first: ending the command streams lets GracefulStop finish.
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.broker.Stop()
		return nil
	}))

	a.addr = lis.Addr()
	a.running = true
	a.logger.Info("broker started",
		"addr", a.addr.String(),
		"base_dir", a.cfg.Search.BaseDir,
		"engine", a.cfg.Search.Engine,
		"request_timeout", a.cfg.Broker.RequestTimeout)
	return nil
}

// Addr returns the address the gRPC service listens on, or nil before Start.
func (a *Broker) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Stop stops the background loops, then the servers.
func (a *Broker) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	sm := a.shutdown
	a.mu.Unlock()

	return sm.Shutdown("broker stop")
}

// Worker runs the worker process: the broker connection, the executors,
// and the optional metrics server.
type Worker struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewWorker validates cfg.
func NewWorker(cfg *config.Config, logger *slog.Logger) (*Worker, error) {
	if err := Prepare(cfg); err != nil {
		return nil, err
	}
	return &Worker{cfg: cfg, logger: logger}, nil
}

// Run connects to the broker and serves commands until ctx is done.
func (a *Worker) Run(ctx context.Context) error {
	conn, err := protocol.Dial(a.cfg.Worker.BrokerAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to broker %s: %w", a.cfg.Worker.BrokerAddr, err)
	}

	sm := server.NewShutdownManager(0, a.logger)
	sm.RegisterCloser(conn)
	if a.cfg.Worker.MetricsAddr != "" {
		sm.ServeHTTP("metrics", metrics.NewServer(a.cfg.Worker.MetricsAddr))
	}
	defer sm.Shutdown("worker stop")

	a.logger.Info("worker started",
		"broker", a.cfg.Worker.BrokerAddr,
		"hostname", a.cfg.Worker.Hostname,
		"processes", a.cfg.Worker.Processes)
	return worker.New(a.cfg, protocol.NewClient(conn), a.logger).Serve(ctx)
}
