// Package broker coordinates distributed searches: it dispatches commands,
// tracks request records, collects worker results into one answer, times
// out stale requests, and delivers final messages to callback addresses.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hayabusa-search/hayabusa/internal/config"
	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/internal/metrics"
	"github.com/hayabusa-search/hayabusa/pkg/types"
)

// Broker wires the registry, the two queues, and the background loops.
type Broker struct {
	registry *Registry
	commands *Queue[*types.Command]
	inbound  *Queue[*types.Result]

	dispatcher *Dispatcher
	collector  *Collector
	monitor    *Monitor
	sender     *Sender
	logger     *slog.Logger

	mu          sync.Mutex
	running     bool
	stopMonitor context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a broker from the configuration and the user list.
func New(cfg *config.Config, users config.Users, logger *slog.Logger) *Broker {
	registry := NewRegistry()
	commands := NewQueue[*types.Command]()
	inbound := NewQueue[*types.Result]()
	maxLog := cfg.General.MaxResultLogLength
	sender := NewSender(registry, cfg.Broker.DeliveryProbeTimeout, cfg.Broker.DeliveryWriteTimeout, maxLog, logger)

	return &Broker{
		registry:   registry,
		commands:   commands,
		inbound:    inbound,
		dispatcher: NewDispatcher(registry, commands, cfg.Search, users, logger),
		collector:  NewCollector(registry, inbound, sender, cfg.Broker.MaxStderrLength, maxLog, logger),
		monitor:    NewMonitor(registry, inbound, cfg.Broker.MonitorInterval, cfg.Broker.RequestTimeout, cfg.Broker.RequestLifetime, logger),
		sender:     sender,
		logger:     logger,
	}
}

// Start launches the collector and the monitor.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("broker is already running")
	}
	b.running = true

	// The collector stops once the inbound queue is drained.
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	b.stopMonitor = stopMonitor
	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		if err := b.collector.Run(ctx); err != nil {
			b.logger.Error("result collector exited", "error", err)
		}
	}()
	go func() {
		defer b.wg.Done()
		b.monitor.Run(monitorCtx)
	}()
	return nil
}

// Stop closes both queues, waits for the background loops, and then for
// deliveries in flight. Workers blocked on NextCommand return.
func (b *Broker) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	b.stopMonitor()
	b.commands.Close()
	b.inbound.Close()
	b.wg.Wait()
	b.sender.Wait()
}

// Submit dispatches a search and returns the request id.
func (b *Broker) Submit(req *types.SubmitRequest) (string, error) {
	return b.dispatcher.Submit(req)
}

// Status returns a snapshot of a request record. A non-empty user must own
// the record.
func (b *Broker) Status(id, user string) (Record, error) {
	rec, err := b.registry.Snapshot(id)
	if err != nil {
		return Record{}, err
	}
	if user != "" && user != rec.User {
		return Record{}, herrors.NewValidationError(herrors.CodePermissionDenied, "permission denied: %s", user)
	}
	return rec, nil
}

// NextCommand blocks until a command is available for a worker.
func (b *Broker) NextCommand(ctx context.Context) (*types.Command, error) {
	cmd, err := b.commands.Pop(ctx)
	if err != nil {
		return nil, err
	}
	metrics.QueuedCommands.Set(float64(b.commands.Len()))
	return cmd, nil
}

// Accept queues a worker notice or result for the collector. Timeouts are
// only synthesized by the broker itself.
func (b *Broker) Accept(res *types.Result) error {
	if res.Kind != types.KindNotice && res.Kind != types.KindResult {
		return herrors.NewProtocolError(herrors.CodeBadMessage, "workers cannot send %q messages", res.Kind)
	}
	return b.inbound.Push(res)
}

// Registry exposes the record store.
func (b *Broker) Registry() *Registry {
	return b.registry
}
