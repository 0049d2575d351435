// Package metrics holds the prometheus collectors of the broker and the
// worker and the HTTP handler that exposes them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Broker collectors.
var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hayabusa_broker_submissions_total",
		Help: "Search submissions by outcome (accepted, rejected)",
	}, []string{"outcome"})

	CommandsDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hayabusa_broker_commands_dispatched_total",
		Help: "Commands pushed onto the command queue",
	})

	RequestsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hayabusa_broker_requests_finished_total",
		Help: "Requests that reached an outcome, by status",
	}, []string{"status"})

	MessagesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hayabusa_broker_messages_rejected_total",
		Help: "Worker messages dropped by the result collector, by error code",
	}, []string{"code"})

	DeliveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hayabusa_broker_delivery_failures_total",
		Help: "Final messages that could not be delivered, by error code",
	}, []string{"code"})

	RegistryRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hayabusa_broker_registry_records",
		Help: "Request records currently held by the registry",
	})

	QueuedCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hayabusa_broker_queued_commands",
		Help: "Commands waiting for a worker",
	})
)

// Worker collectors.
var (
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hayabusa_worker_command_duration_seconds",
		Help:    "Runtime of executed commands by exit class (ok, failed)",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"exit"})

	CommandsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hayabusa_worker_commands_in_flight",
		Help: "Commands currently executing",
	})
)

// ObserveCommand records one finished command.
func ObserveCommand(elapsed time.Duration, exitStatus int) {
	class := "ok"
	if exitStatus != 0 {
		class = "failed"
	}
	CommandDuration.WithLabelValues(class).Observe(elapsed.Seconds())
}

// NewServer returns an HTTP server exposing /metrics and /health on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
