// Package worker runs dispatched search commands. A worker holds one
// command stream and one result stream to the broker and a fixed pool of
// executors that each run one command at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hayabusa-search/hayabusa/internal/config"
	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/internal/logging"
	"github.com/hayabusa-search/hayabusa/internal/metrics"
	"github.com/hayabusa-search/hayabusa/internal/protocol"
	"github.com/hayabusa-search/hayabusa/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// reconnectDelay separates attempts to reopen the broker streams.
const reconnectDelay = time.Second

// Broker is the part of the broker client a worker uses.
type Broker interface {
	Commands(ctx context.Context, in *types.CommandsRequest, opts ...grpc.CallOption) (protocol.CommandsClient, error)
	Results(ctx context.Context, opts ...grpc.CallOption) (protocol.ResultsClient, error)
}

// Runtime is a worker process.
type Runtime struct {
	broker    Broker
	executor  *Executor
	processes int
	hostname  string
	maxLog    int
	logger    *slog.Logger
}

// New creates a worker runtime from the worker section of cfg.
func New(cfg *config.Config, broker Broker, logger *slog.Logger) *Runtime {
	return &Runtime{
		broker:    broker,
		executor:  NewExecutor(cfg.Worker.BashPath),
		processes: cfg.Worker.Processes,
		hostname:  cfg.Worker.Hostname,
		maxLog:    cfg.General.MaxResultLogLength,
		logger:    logger,
	}
}

// Label returns the worker label of executor n, e.g. "web01-Process-3".
func (r *Runtime) Label(n int) string {
	return fmt.Sprintf("%s-Process-%d", r.hostname, n)
}

// Serve runs the worker until ctx is done, reopening the broker streams
// whenever they end. It stops early when the executors cannot launch
// commands.
func (r *Runtime) Serve(ctx context.Context) error {
	for {
		err := r.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if herrors.GetCategory(err) == herrors.ErrCategorySubprocess {
			return err
		}
		r.logger.Warn("broker streams ended, reconnecting", "error", err, "delay", reconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Run opens the broker streams and executes commands until the command
// stream ends, ctx is done, or every executor has failed to launch a
// command. Launch failures are returned.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmds, err := r.broker.Commands(ctx, &types.CommandsRequest{Worker: r.hostname})
	if err != nil {
		return fmt.Errorf("opening command stream: %w", err)
	}
	results, err := r.broker.Results(ctx)
	if err != nil {
		return fmt.Errorf("opening result stream: %w", err)
	}
	out := &resultStream{stream: results}

	r.logger.Info("worker started", "hostname", r.hostname, "processes", r.processes)

	work := make(chan *types.Command)
	exited := make(chan struct{})
	recvErr := make(chan error, 1)
	go func() {
		defer close(work)
		for {
			cmd, err := cmds.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case work <- cmd:
			case <-exited:
				r.logger.Error("no executor left, dropping command", "id", cmd.ID, "index", cmd.Index)
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, r.processes)
	for n := 1; n <= r.processes; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n-1] = r.execute(ctx, n, work, out)
		}(n)
	}
	wg.Wait()
	close(exited)

	if _, err := out.closeAndRecv(); err != nil && ctx.Err() == nil {
		r.logger.Debug("closing result stream", "error", err)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	select {
	case err := <-recvErr:
		if err == io.EOF || status.Code(err) == codes.Canceled || ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("command stream: %w", err)
	default:
		return nil
	}
}

// execute is the loop of executor n.
func (r *Runtime) execute(ctx context.Context, n int, work <-chan *types.Command, out *resultStream) error {
	label := r.Label(n)
	log := r.logger.With("worker", label)

	for cmd := range work {
		log.Debug("received command", "id", cmd.ID, "index", cmd.Index, "commands", cmd.Total,
			"command", logging.Truncate(cmd.Command, r.maxLog))

		err := out.send(&types.Result{
			Kind:   types.KindNotice,
			ID:     cmd.ID,
			Index:  cmd.Index,
			Total:  cmd.Total,
			Sum:    cmd.Sum,
			Worker: label,
		})
		if err != nil {
			log.Error("sending notice failed", "id", cmd.ID, "error", err)
		}

		metrics.CommandsInFlight.Inc()
		res, err := r.executor.Execute(ctx, cmd)
		metrics.CommandsInFlight.Dec()
		if err != nil {
			log.Error("executor stopped", "id", cmd.ID, "error", err)
			return err
		}
		res.Worker = label
		elapsed := time.Duration(res.ElapsedTime * float64(time.Second))
		metrics.ObserveCommand(elapsed, res.ExitStatus)

		if err := out.send(res); err != nil {
			log.Error("sending result failed", "id", cmd.ID, "error", err)
			continue
		}
		log.Debug("sent result", "elapsed", logging.Elapsed(elapsed), logging.Result(res, r.maxLog))
	}
	return nil
}

// resultStream serializes sends from all executors onto one stream.
type resultStream struct {
	mu     sync.Mutex
	stream protocol.ResultsClient
}

func (s *resultStream) send(res *types.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Send(res)
}

func (s *resultStream) closeAndRecv() (*types.ResultsAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.CloseAndRecv()
}
