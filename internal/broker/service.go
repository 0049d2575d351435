package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
	"github.com/hayabusa-search/hayabusa/internal/protocol"
	"github.com/hayabusa-search/hayabusa/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Service exposes a Broker over gRPC.
type Service struct {
	broker *Broker
	logger *slog.Logger
}

var _ protocol.BrokerServer = (*Service)(nil)

// NewService creates the gRPC front of b.
func NewService(b *Broker, logger *slog.Logger) *Service {
	return &Service{broker: b, logger: logger}
}

// Submit implements protocol.BrokerServer.
// A submission that fails after its record was created still carries the
// request id in the response header.
func (s *Service) Submit(ctx context.Context, req *types.SubmitRequest) (*types.SubmitResponse, error) {
	id, err := s.broker.Submit(req)
	if err != nil {
		s.logger.Warn("submission rejected", "id", id, "user", req.User, "error", err)
		if id != "" {
			if herr := grpc.SetHeader(ctx, metadata.Pairs(protocol.RequestIDHeader, id)); herr != nil {
				s.logger.Error("setting request id header failed", "id", id, "error", herr)
			}
		}
		return nil, toStatus(err)
	}
	return &types.SubmitResponse{ID: id}, nil
}

// Status implements protocol.BrokerServer.
func (s *Service) Status(_ context.Context, req *types.StatusRequest) (*types.StatusResponse, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	rec, err := s.broker.Status(req.ID, req.User)
	if err != nil {
		return nil, toStatus(err)
	}
	return &types.StatusResponse{
		ID:       rec.ID,
		User:     rec.User,
		Status:   rec.Status.String(),
		Progress: rec.Progress,
		Result:   rec.Result,
		Created:  rec.Created,
		Updated:  rec.Updated,
	}, nil
}

// Commands implements protocol.BrokerServer. Each command is handed to
// exactly one stream; a command whose send fails is lost and its request
// eventually times out.
func (s *Service) Commands(req *types.CommandsRequest, stream protocol.CommandsServer) error {
	ctx := stream.Context()
	s.logger.Info("worker connected", "worker", req.Worker)
	defer s.logger.Info("worker disconnected", "worker", req.Worker)

	for {
		cmd, err := s.broker.NextCommand(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return status.FromContextError(err).Err()
		}
		if err := stream.Send(cmd); err != nil {
			s.logger.Error("command lost", "worker", req.Worker, "id", cmd.ID, "index", cmd.Index, "error", err)
			return err
		}
	}
}

// Results implements protocol.BrokerServer.
func (s *Service) Results(stream protocol.ResultsServer) error {
	var received int64
	for {
		res, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&types.ResultsAck{Received: received})
		}
		if err != nil {
			return err
		}
		if err := s.broker.Accept(res); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return status.Error(codes.Unavailable, "broker is stopping")
			}
			s.logger.Warn("ignoring worker message", "id", res.ID, "error", err)
			continue
		}
		received++
	}
}

// toStatus maps structured errors onto gRPC status codes.
func toStatus(err error) error {
	code := codes.Internal
	switch herrors.GetCategory(err) {
	case herrors.ErrCategoryValidation:
		code = codes.InvalidArgument
		if herrors.GetCode(err) == herrors.CodePermissionDenied {
			code = codes.PermissionDenied
		}
	case herrors.ErrCategoryRequest:
		code = codes.NotFound
		if herrors.GetCode(err) == herrors.CodeDuplicateRequest {
			code = codes.AlreadyExists
		}
	case herrors.ErrCategoryProtocol:
		code = codes.FailedPrecondition
	case herrors.ErrCategoryInternal:
		if herrors.GetCode(err) == herrors.CodeClosed {
			code = codes.Unavailable
		}
	}
	return status.Error(code, err.Error())
}
