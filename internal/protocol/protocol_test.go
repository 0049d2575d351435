package protocol

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hayabusa-search/hayabusa/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestCodecRoundTrip(t *testing.T) {
	in := &types.StatusResponse{
		ID:       "5f0c",
		User:     "alice",
		Status:   "ReceivedAllResults",
		Progress: []string{"completed-web01-Process-1"},
		Result:   &types.Delivery{ID: "5f0c", Stdout: strings.Repeat("Aug  1 03:05:00 host sshd: accepted\n", 500)},
		Created:  time.Date(2018, 8, 1, 3, 5, 0, 123000000, time.UTC),
		Updated:  time.Date(2018, 8, 1, 3, 5, 7, 0, time.UTC),
	}

	var c Codec
	data, err := c.Marshal(in)
	require.NoError(t, err)
	assert.Less(t, len(data), len(in.Result.Stdout), "payload should compress")

	out := new(types.StatusResponse)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Progress, out.Progress)
	assert.Equal(t, in.Result, out.Result)
	assert.True(t, in.Created.Equal(out.Created))
}

func TestCodecRejectsGarbage(t *testing.T) {
	var c Codec
	assert.Error(t, c.Unmarshal([]byte("not snappy"), new(types.Result)))
}

type fakeBroker struct {
	commands []*types.Command
	received chan *types.Result
}

func (f *fakeBroker) Submit(_ context.Context, in *types.SubmitRequest) (*types.SubmitResponse, error) {
	if in.User == "" {
		return nil, status.Error(codes.InvalidArgument, "user is required")
	}
	return &types.SubmitResponse{ID: "id-" + in.User}, nil
}

func (f *fakeBroker) Status(_ context.Context, in *types.StatusRequest) (*types.StatusResponse, error) {
	return &types.StatusResponse{ID: in.ID, Status: "ReceivedRequest"}, nil
}

func (f *fakeBroker) Commands(_ *types.CommandsRequest, stream CommandsServer) error {
	for _, cmd := range f.commands {
		if err := stream.Send(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBroker) Results(stream ResultsServer) error {
	var n int64
	for {
		res, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&types.ResultsAck{Received: n})
		}
		if err != nil {
			return err
		}
		n++
		f.received <- res
	}
}

func startBroker(t *testing.T, srv BrokerServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterBrokerServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestBrokerService(t *testing.T) {
	fake := &fakeBroker{
		commands: []*types.Command{
			{ID: "r1", Command: "echo 1", Index: 0, Total: 2},
			{ID: "r1", Command: "echo 2", Index: 1, Total: 2},
		},
		received: make(chan *types.Result, 4),
	}
	client := startBroker(t, fake)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("submit", func(t *testing.T) {
		resp, err := client.Submit(ctx, &types.SubmitRequest{User: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "id-alice", resp.ID)

		_, err = client.Submit(ctx, &types.SubmitRequest{})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("status", func(t *testing.T) {
		resp, err := client.Status(ctx, &types.StatusRequest{ID: "r1"})
		require.NoError(t, err)
		assert.Equal(t, "r1", resp.ID)
	})

	t.Run("commands", func(t *testing.T) {
		stream, err := client.Commands(ctx, &types.CommandsRequest{Worker: "web01"})
		require.NoError(t, err)
		var got []string
		for {
			cmd, err := stream.Recv()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, cmd.Command)
		}
		assert.Equal(t, []string{"echo 1", "echo 2"}, got)
	})

	t.Run("results", func(t *testing.T) {
		stream, err := client.Results(ctx)
		require.NoError(t, err)
		require.NoError(t, stream.Send(&types.Result{Kind: types.KindNotice, ID: "r1", Total: 2}))
		require.NoError(t, stream.Send(&types.Result{Kind: types.KindResult, ID: "r1", Total: 2, Stdout: "1\n"}))
		ack, err := stream.CloseAndRecv()
		require.NoError(t, err)
		assert.Equal(t, int64(2), ack.Received)

		first := <-fake.received
		assert.Equal(t, types.KindNotice, first.Kind)
		second := <-fake.received
		assert.Equal(t, "1\n", second.Stdout)
	})
}
