package broker

import (
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/internal/logging"
	"github.com/hayabusa-search/hayabusa/internal/metrics"
)

// Sender pushes final messages to callback addresses, one goroutine per
// outcome. Delivery is best effort: failures are logged and the outcome is
// abandoned.
type Sender struct {
	registry     *Registry
	probeTimeout time.Duration
	writeTimeout time.Duration
	maxLog       int
	logger       *slog.Logger

	wg sync.WaitGroup
}

// NewSender creates a delivery sender.
func NewSender(registry *Registry, probeTimeout, writeTimeout time.Duration, maxLog int, logger *slog.Logger) *Sender {
	return &Sender{
		registry:     registry,
		probeTimeout: probeTimeout,
		writeTimeout: writeTimeout,
		maxLog:       maxLog,
		logger:       logger,
	}
}

// Send starts delivering o and returns immediately.
func (s *Sender) Send(o Outcome) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Deliver(o); err != nil {
			metrics.DeliveryFailuresTotal.WithLabelValues(rejectCode(err)).Inc()
			s.logger.Error("delivery failed", "error", err, logging.Delivery(&o.Delivery, s.maxLog))
		}
	}()
}

// Wait blocks until every started delivery has finished.
func (s *Sender) Wait() {
	s.wg.Wait()
}

// Deliver writes o as one JSON document followed by a newline to the
// callback address of its request. The connect doubles as the
// reachability probe. A successful search delivery advances the record to
// SentResult.
func (s *Sender) Deliver(o Outcome) error {
	rec, err := s.registry.Snapshot(o.Delivery.ID)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(rec.Host, strconv.Itoa(rec.Port))

	conn, err := net.DialTimeout("tcp", addr, s.probeTimeout)
	if err != nil {
		return herrors.NewDeliveryError(herrors.CodeUnreachable, "cannot connect "+addr, err)
	}
	defer conn.Close()

	if s.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return herrors.NewDeliveryError(herrors.CodeSendFailed, "setting write deadline for "+addr, err)
		}
	}
	if err := json.NewEncoder(conn).Encode(&o.Delivery); err != nil {
		return herrors.NewDeliveryError(herrors.CodeSendFailed, "sending result to "+addr, err)
	}
	s.logger.Debug("result sent", "id", rec.ID, "addr", addr)

	if !o.Success {
		return nil
	}
	if _, err := s.registry.Advance(rec.ID, StatusSentResult, nil); err != nil {
		return err
	}
	metrics.RequestsFinishedTotal.WithLabelValues(StatusSentResult.String()).Inc()
	s.logger.Info("request finished", "id", rec.ID, "elapsed", logging.Elapsed(time.Since(rec.Created)))
	return nil
}
