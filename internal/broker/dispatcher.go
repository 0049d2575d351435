package broker

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hayabusa-search/hayabusa/internal/config"
	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/internal/metrics"
	"github.com/hayabusa-search/hayabusa/internal/query"
	"github.com/hayabusa-search/hayabusa/internal/sharding"
	"github.com/hayabusa-search/hayabusa/pkg/types"
)

// Dispatcher validates submissions, creates their records, and pushes one
// command per planner entry onto the command queue.
type Dispatcher struct {
	registry *Registry
	commands *Queue[*types.Command]
	builder  *query.Builder
	users    config.Users
	logger   *slog.Logger

	baseDir string
	maxDays int

	now   func() time.Time
	newID func() (string, error)
}

// NewDispatcher creates a dispatcher for the search layout in cfg.
func NewDispatcher(registry *Registry, commands *Queue[*types.Command], cfg config.SearchConfig, users config.Users, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		commands: commands,
		builder:  query.NewBuilder(cfg),
		users:    users,
		logger:   logger,
		baseDir:  cfg.BaseDir,
		maxDays:  cfg.MaxSearchDays,
		now:      time.Now,
		newID:    newRequestID,
	}
}

// newRequestID returns a time-based UUID.
func newRequestID() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Submit dispatches a search and returns its request id. Every validation
// happens before the record exists, so a rejected submission leaves no
// trace in the registry.
func (d *Dispatcher) Submit(req *types.SubmitRequest) (string, error) {
	cmds, sum, err := d.plan(req)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return "", err
	}

	id, err := d.newID()
	if err != nil {
		return "", herrors.NewInternalError("generating request id", err)
	}
	if _, err := d.registry.Create(id, req.User, req.Host, req.Port); err != nil {
		return "", err
	}

	for i, cmd := range cmds {
		err := d.commands.Push(&types.Command{
			ID:      id,
			Command: cmd,
			Sum:     sum,
			Index:   i,
			Total:   len(cmds),
		})
		if err != nil {
			_, aerr := d.registry.Advance(id, StatusRequestError, &Data{Result: &types.Delivery{
				ID:         id,
				ExitStatus: 1,
				Stderr:     "Error: command dispatch failed",
			}})
			if aerr != nil {
				d.logger.Error("marking request failed", "id", id, "error", aerr)
			}
			d.logger.Error("command dispatch failed", "id", id, "index", i, "commands", len(cmds), "error", err)
			metrics.RequestsFinishedTotal.WithLabelValues(StatusRequestError.String()).Inc()
			return id, herrors.Wrap(herrors.ErrCategoryInternal, herrors.CodeClosed, "dispatching commands", err)
		}
		metrics.CommandsDispatchedTotal.Inc()
	}
	metrics.QueuedCommands.Set(float64(d.commands.Len()))
	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()

	d.logger.Info("request dispatched",
		"id", id, "user", req.User, "commands", len(cmds),
		"start_time", req.StartTime, "end_time", req.EndTime,
		"count", req.Count, "sum", sum, "exact", req.Exact)
	return id, nil
}

// plan validates req and produces its commands.
func (d *Dispatcher) plan(req *types.SubmitRequest) ([]string, bool, error) {
	switch {
	case req.User == "":
		return nil, false, herrors.NewValidationError(herrors.CodeMissingField, "user is required")
	case req.Host == "":
		return nil, false, herrors.NewValidationError(herrors.CodeMissingField, "callback host is required")
	case req.Port <= 0 || req.Port > 65535:
		return nil, false, herrors.NewValidationError(herrors.CodeMissingField, "invalid callback port: %d", req.Port)
	case req.StartTime == "" || req.EndTime == "":
		return nil, false, herrors.NewValidationError(herrors.CodeMissingField, "start_time and end_time are required")
	}
	if !d.users.Has(req.User) {
		return nil, false, herrors.NewValidationError(herrors.CodeUnknownUser, "invalid user: %q", req.User)
	}

	start, end, err := sharding.ParseRange(req.StartTime, req.EndTime, d.maxDays)
	if err != nil {
		return nil, false, err
	}
	entries, err := sharding.Plan(filepath.Join(d.baseDir, req.User), start, end, d.now())
	if err != nil {
		return nil, false, err
	}

	params := query.Params{
		Match: req.Match,
		Count: req.Count,
		Sum:   req.Count && req.Sum,
		Exact: req.Exact,
	}
	return d.builder.Commands(entries, params), params.Sum, nil
}
