package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hayabusa-search/hayabusa/pkg/types"
)

// Monitor periodically times out stale requests and removes finished
// records once their retention expires.
type Monitor struct {
	registry *Registry
	inbound  *Queue[*types.Result]
	logger   *slog.Logger

	interval time.Duration
	timeout  time.Duration
	lifetime time.Duration

	// timedOut holds requests with a timeout already queued
	timedOut map[string]struct{}
}

// NewMonitor creates a monitor that feeds timeouts into inbound.
func NewMonitor(registry *Registry, inbound *Queue[*types.Result], interval, timeout, lifetime time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		registry: registry,
		inbound:  inbound,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		lifetime: lifetime,
		timedOut: make(map[string]struct{}),
	}
}

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("request monitor started", "interval", m.interval, "timeout", m.timeout, "lifetime", m.lifetime)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("request monitor stopped")
			return nil
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Sweep runs one pass at now. It returns the number of timeouts queued and
// records removed. Each request gets at most one timeout.
func (m *Monitor) Sweep(now time.Time) (timeouts, removed int) {
	records := m.registry.Snapshots()
	live := make(map[string]struct{}, len(records))

	for _, rec := range records {
		age := now.Sub(rec.Created)
		switch {
		case rec.Status.Pending():
			live[rec.ID] = struct{}{}
			if age <= m.timeout {
				continue
			}
			if _, queued := m.timedOut[rec.ID]; queued {
				continue
			}
			err := m.inbound.Push(&types.Result{
				Kind:       types.KindTimeout,
				ID:         rec.ID,
				Host:       rec.Host,
				Port:       rec.Port,
				ExitStatus: 1,
				Stderr:     types.TimeoutStderr,
			})
			if err != nil {
				m.logger.Error("queueing timeout failed", "id", rec.ID, "error", err)
				continue
			}
			m.timedOut[rec.ID] = struct{}{}
			timeouts++

		// ReceivedAllResults only leaves through a delivery, so an
		// unreachable callback parks it here until retention expires.
		case age > m.lifetime:
			if m.registry.Delete(rec.ID) {
				m.logger.Debug("removed expired request", "id", rec.ID, "status", rec.Status, "age", age.Round(time.Second))
				removed++
			}
		}
	}

	for id := range m.timedOut {
		if _, ok := live[id]; !ok {
			delete(m.timedOut, id)
		}
	}

	m.logger.Debug("request monitor sweep", "records", len(records), "timeouts", timeouts, "removed", removed)
	return timeouts, removed
}
