package protocol

import (
	"context"

	"github.com/hayabusa-search/hayabusa/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Fully qualified method names of the broker service.
const (
	ServiceName    = "hayabusa.v1.Broker"
	SubmitMethod   = "/" + ServiceName + "/Submit"
	StatusMethod   = "/" + ServiceName + "/Status"
	CommandsMethod = "/" + ServiceName + "/Commands"
	ResultsMethod  = "/" + ServiceName + "/Results"
)

// RequestIDHeader is the response header carrying the request id of a
// submission that failed after its record was created.
const RequestIDHeader = "hayabusa-request-id"

// BrokerServer is the server API of the broker service.
type BrokerServer interface {
	// Submit accepts a search and returns the assigned request id.
	Submit(context.Context, *types.SubmitRequest) (*types.SubmitResponse, error)
	// Status returns a snapshot of one request record.
	Status(context.Context, *types.StatusRequest) (*types.StatusResponse, error)
	// Commands streams dispatched commands to one worker.
	Commands(*types.CommandsRequest, CommandsServer) error
	// Results receives notices and results from one worker.
	Results(ResultsServer) error
}

// CommandsServer is the server side of the Commands stream.
type CommandsServer interface {
	Send(*types.Command) error
	grpc.ServerStream
}

// ResultsServer is the server side of the Results stream.
type ResultsServer interface {
	Recv() (*types.Result, error)
	SendAndClose(*types.ResultsAck) error
	grpc.ServerStream
}

// ServiceDesc describes the broker service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Commands", Handler: commandsHandler, ServerStreams: true},
		{StreamName: "Results", Handler: resultsHandler, ClientStreams: true},
	},
	Metadata: "hayabusa/v1/broker",
}

// RegisterBrokerServer registers srv on s.
func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).Submit(ctx, req.(*types.SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).Status(ctx, req.(*types.StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func commandsHandler(srv any, stream grpc.ServerStream) error {
	in := new(types.CommandsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BrokerServer).Commands(in, &commandsServer{stream})
}

func resultsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(BrokerServer).Results(&resultsServer{stream})
}

type commandsServer struct {
	grpc.ServerStream
}

func (x *commandsServer) Send(m *types.Command) error {
	return x.ServerStream.SendMsg(m)
}

type resultsServer struct {
	grpc.ServerStream
}

func (x *resultsServer) Recv() (*types.Result, error) {
	m := new(types.Result)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (x *resultsServer) SendAndClose(m *types.ResultsAck) error {
	return x.ServerStream.SendMsg(m)
}

// Dial creates a client connection to a broker using the hayabusa codec.
// Extra options are applied after the defaults.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name)),
	}
	return grpc.NewClient(target, append(defaults, opts...)...)
}

// Client is the client API of the broker service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection. The connection must use the hayabusa
// content subtype, as Dial configures.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Submit sends a search submission.
func (c *Client) Submit(ctx context.Context, in *types.SubmitRequest, opts ...grpc.CallOption) (*types.SubmitResponse, error) {
	out := new(types.SubmitResponse)
	if err := c.cc.Invoke(ctx, SubmitMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Status fetches a request record snapshot.
func (c *Client) Status(ctx context.Context, in *types.StatusRequest, opts ...grpc.CallOption) (*types.StatusResponse, error) {
	out := new(types.StatusResponse)
	if err := c.cc.Invoke(ctx, StatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CommandsClient is the client side of the Commands stream.
type CommandsClient interface {
	Recv() (*types.Command, error)
	grpc.ClientStream
}

// Commands opens the command stream for one worker.
func (c *Client) Commands(ctx context.Context, in *types.CommandsRequest, opts ...grpc.CallOption) (CommandsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], CommandsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &commandsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type commandsClient struct {
	grpc.ClientStream
}

func (x *commandsClient) Recv() (*types.Command, error) {
	m := new(types.Command)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ResultsClient is the client side of the Results stream.
type ResultsClient interface {
	Send(*types.Result) error
	CloseAndRecv() (*types.ResultsAck, error)
	grpc.ClientStream
}

// Results opens the result stream for one worker.
func (c *Client) Results(ctx context.Context, opts ...grpc.CallOption) (ResultsClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], ResultsMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &resultsClient{stream}, nil
}

type resultsClient struct {
	grpc.ClientStream
}

func (x *resultsClient) Send(m *types.Result) error {
	return x.ClientStream.SendMsg(m)
}

func (x *resultsClient) CloseAndRecv() (*types.ResultsAck, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(types.ResultsAck)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
