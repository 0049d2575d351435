package broker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/internal/logging"
	"github.com/hayabusa-search/hayabusa/internal/metrics"
	"github.com/hayabusa-search/hayabusa/pkg/types"
)

// unableToOpen appears in sqlite3 stderr for every missing shard file.
const unableToOpen = "unable to open database"

// Outcome is a final message queued for delivery to a request's callback.
type Outcome struct {
	Delivery types.Delivery

	// Success marks a completed search; the record moves to SentResult
	// once the push succeeds. Timeouts are already terminal.
	Success bool
}

// Deliverer sends outcomes without blocking the caller.
type Deliverer interface {
	Send(Outcome)
}

// buffer accumulates the messages of one request, slot-indexed by command.
type buffer struct {
	results  []*types.Result
	progress []string
	filled   int
}

func newBuffer(total int) *buffer {
	return &buffer{
		results:  make([]*types.Result, total),
		progress: make([]string, total),
	}
}

// Collector is the single consumer of the inbound queue. It owns the
// accumulation buffers, so no lock guards them.
type Collector struct {
	registry  *Registry
	inbound   *Queue[*types.Result]
	deliverer Deliverer
	logger    *slog.Logger

	maxStderr int
	maxLog    int

	buffers map[string]*buffer
}

// NewCollector creates a collector reading from inbound.
func NewCollector(registry *Registry, inbound *Queue[*types.Result], deliverer Deliverer, maxStderr, maxLog int, logger *slog.Logger) *Collector {
	return &Collector{
		registry:  registry,
		inbound:   inbound,
		deliverer: deliverer,
		logger:    logger,
		maxStderr: maxStderr,
		maxLog:    maxLog,
		buffers:   make(map[string]*buffer),
	}
}

// Run consumes messages in arrival order until ctx is done or the inbound
// queue is closed and drained. Rejected messages are logged and dropped.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("result collector started")
	for {
		res, err := c.inbound.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				c.logger.Info("result collector stopped")
				return nil
			}
			return err
		}
		if err := c.Handle(res); err != nil {
			metrics.MessagesRejectedTotal.WithLabelValues(rejectCode(err)).Inc()
			c.logger.Warn("ignoring message", "error", err, logging.Result(res, c.maxLog))
		}
	}
}

// Handle applies one message. It returns an error when the message is
// rejected; the registry and buffers are then unchanged.
func (c *Collector) Handle(res *types.Result) error {
	rec, err := c.registry.Snapshot(res.ID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return herrors.NewProtocolError(herrors.CodeTerminalRequest,
			"request %s already finished: %s", rec.ID, rec.Status)
	}

	switch res.Kind {
	case types.KindTimeout:
		return c.timeout(rec, res)
	case types.KindNotice, types.KindResult:
	default:
		return herrors.NewProtocolError(herrors.CodeBadMessage, "unknown message type %q", res.Kind)
	}

	if !rec.Status.Pending() {
		return herrors.NewProtocolError(herrors.CodeIllegalTransition,
			"request %s already received all results", rec.ID)
	}
	if res.Total <= 0 || res.Index < 0 || res.Index >= res.Total {
		return herrors.NewProtocolError(herrors.CodeBadIndex,
			"request %s: index %d out of range for %d commands", res.ID, res.Index, res.Total)
	}

	buf, ok := c.buffers[res.ID]
	if !ok {
		buf = newBuffer(res.Total)
	} else if len(buf.results) != res.Total {
		return herrors.NewProtocolError(herrors.CodeBadIndex,
			"request %s: command count changed from %d to %d", res.ID, len(buf.results), res.Total)
	}

	if res.Kind == types.KindNotice {
		if _, err := c.registry.Advance(res.ID, StatusCollectingResults, &Data{Progress: withLabel(buf.progress, res.Index, res.Worker)}); err != nil {
			return err
		}
		buf.progress[res.Index] = res.Worker
		c.buffers[res.ID] = buf
		c.logger.Debug("command claimed", "id", res.ID, "index", res.Index, "worker", res.Worker)
		return nil
	}

	filled := buf.filled
	if buf.results[res.Index] == nil {
		filled++
	}
	progress := withLabel(buf.progress, res.Index, "completed-"+res.Worker)

	if filled < res.Total {
		if _, err := c.registry.Advance(res.ID, StatusCollectingResults, &Data{Progress: progress}); err != nil {
			return err
		}
		buf.results[res.Index] = res
		buf.progress = progress
		buf.filled = filled
		c.buffers[res.ID] = buf
		c.logger.Debug("result received",
			"id", res.ID, "progress", strconv.Itoa(filled)+"/"+strconv.Itoa(res.Total),
			logging.Result(res, c.maxLog))
		return nil
	}

	results := append([]*types.Result(nil), buf.results...)
	results[res.Index] = res
	final := c.consolidate(res.ID, res.Sum, results)
	rec, err = c.registry.Advance(res.ID, StatusReceivedAllResults, &Data{Progress: progress, Result: &final})
	if err != nil {
		return err
	}
	delete(c.buffers, res.ID)
	c.logger.Info("received all results",
		"id", res.ID, "commands", res.Total,
		"elapsed", logging.Elapsed(rec.Updated.Sub(rec.Created)))
	c.deliverer.Send(Outcome{Delivery: final, Success: true})
	return nil
}

func (c *Collector) timeout(rec Record, res *types.Result) error {
	final := types.Delivery{
		ID:         rec.ID,
		ExitStatus: res.ExitStatus,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	}
	if _, err := c.registry.Advance(rec.ID, StatusTimeoutError, &Data{Result: &final}); err != nil {
		return err
	}
	delete(c.buffers, rec.ID)
	metrics.RequestsFinishedTotal.WithLabelValues(StatusTimeoutError.String()).Inc()
	c.logger.Warn("request timed out", "id", rec.ID, "host", rec.Host, "port", rec.Port)
	c.deliverer.Send(Outcome{Delivery: final})
	return nil
}

// consolidate merges the filled slots of a request in index order.
func (c *Collector) consolidate(id string, sum bool, results []*types.Result) types.Delivery {
	out := types.Delivery{ID: id}

	var stdout, stderr strings.Builder
	total := 0
	for _, r := range results {
		if sum {
			n, err := strconv.Atoi(strings.TrimSpace(r.Stdout))
			if err != nil {
				c.logger.Error("non-numeric sum value", "id", id, "index", r.Index,
					"stdout", logging.Truncate(r.Stdout, c.maxLog))
			} else {
				total += n
			}
		} else {
			stdout.WriteString(r.Stdout)
		}
		stderr.WriteString(r.Stderr)
		out.ExitStatus += r.ExitStatus
	}

	if sum {
		out.Stdout = strconv.Itoa(total)
		c.logger.Debug("summed results", "id", id, "sum", total)
	} else {
		out.Stdout = stdout.String()
	}

	// The awk sum reducer hides sqlite3's exit status, so missing shards
	// only show up on stderr.
	out.Stderr = stderr.String()
	if strings.Contains(out.Stderr, unableToOpen) {
		out.Stderr = "Error: unable to open database file(s)"
	} else {
		out.Stderr = logging.Truncate(out.Stderr, c.maxStderr)
	}
	return out
}

// withLabel returns a copy of progress with slot i set to label.
func withLabel(progress []string, i int, label string) []string {
	next := append([]string(nil), progress...)
	next[i] = label
	return next
}

func rejectCode(err error) string {
	if code := herrors.GetCode(err); code != "" {
		return code
	}
	return herrors.CodeUnexpected
}
