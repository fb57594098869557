package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/rpc"
)

// stubServer answers Manager with a canned response and counts calls.
type stubServer struct {
	manager func() *rpc.ManagerResponse
	calls   int
}

func (s *stubServer) Manager(ctx context.Context, req *rpc.ManagerRequest) (*rpc.ManagerResponse, error) {
	s.calls++
	return s.manager(), nil
}

func (s *stubServer) Query(ctx context.Context, req *rpc.QueryRequest) (*rpc.QueryResponse, error) {
	return &rpc.QueryResponse{ErrCode: errcode.Success}, nil
}

func (s *stubServer) Naming(ctx context.Context, req *rpc.NamingRequest) (*rpc.NamingResponse, error) {
	return &rpc.NamingResponse{ErrCode: errcode.Success}, nil
}

func (s *stubServer) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	return &rpc.RegisterResponse{ErrCode: errcode.Success}, nil
}

func (s *stubServer) Update(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	return &rpc.RegisterResponse{ErrCode: errcode.Success}, nil
}

func (s *stubServer) Cancel(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	return &rpc.RegisterResponse{ErrCode: errcode.Success}, nil
}

func (s *stubServer) Tso(ctx context.Context, req *rpc.TsoRequest) (*rpc.TsoResponse, error) {
	return &rpc.TsoResponse{ErrCode: errcode.Success}, nil
}

func (s *stubServer) RaftControl(ctx context.Context, req *rpc.RaftControlRequest) (*rpc.RaftControlResponse, error) {
	return &rpc.RaftControlResponse{ErrCode: errcode.Success}, nil
}

func (s *stubServer) Watch(req *rpc.WatchRequest, stream rpc.DiscoveryWatchServer) error {
	return stream.Send(&rpc.WatchEvent{ID: "1", Kind: rpc.EventSchemaChanged, Key: "hello"})
}

func startStub(t *testing.T, stub *stubServer) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	rpc.RegisterDiscoveryServer(srv, stub)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestSenderFollowsLeaderHint(t *testing.T) {
	leader := &stubServer{manager: func() *rpc.ManagerResponse {
		return &rpc.ManagerResponse{ErrCode: errcode.Success, ErrMsg: "success"}
	}}
	leaderAddr := startStub(t, leader)

	follower := &stubServer{manager: func() *rpc.ManagerResponse {
		return &rpc.ManagerResponse{ErrCode: errcode.NotLeader, Leader: leaderAddr}
	}}
	followerAddr := startStub(t, follower)

	sender, err := New([]string{followerAddr},
		WithTimeout(2*time.Second),
		WithMaxRetry(3),
		WithRetryInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	defer sender.Close()

	resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{Op: rpc.OpCreateApp})
	require.NoError(t, err)
	assert.Equal(t, errcode.Success, resp.ErrCode)
	assert.Equal(t, 1, follower.calls)
	assert.Equal(t, 1, leader.calls)
	assert.Equal(t, leaderAddr, sender.Leader())
}

func TestSenderExhaustsRetries(t *testing.T) {
	follower := &stubServer{}
	follower.manager = func() *rpc.ManagerResponse {
		// no leader hint; the only server is this follower, so every retry
		// lands here again
		return &rpc.ManagerResponse{ErrCode: errcode.NotLeader}
	}
	addr := startStub(t, follower)

	sender, err := New([]string{addr},
		WithTimeout(time.Second),
		WithMaxRetry(2),
		WithRetryInterval(5*time.Millisecond),
	)
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Manager(context.Background(), &rpc.ManagerRequest{Op: rpc.OpCreateApp})
	require.Error(t, err)
	assert.Equal(t, 3, follower.calls, "initial attempt plus two retries")
}

func TestSenderSurvivesDeadBackend(t *testing.T) {
	live := &stubServer{manager: func() *rpc.ManagerResponse {
		return &rpc.ManagerResponse{ErrCode: errcode.Success}
	}}
	liveAddr := startStub(t, live)

	// a listener that is closed immediately: connection refused
	deadLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := deadLis.Addr().String()
	deadLis.Close()

	sender, err := New([]string{deadAddr, liveAddr},
		WithTimeout(time.Second),
		WithMaxRetry(3),
		WithRetryInterval(5*time.Millisecond),
	)
	require.NoError(t, err)
	defer sender.Close()

	resp, err := sender.Manager(context.Background(), &rpc.ManagerRequest{Op: rpc.OpCreateApp})
	require.NoError(t, err)
	assert.Equal(t, errcode.Success, resp.ErrCode)
}

func TestWatchStream(t *testing.T) {
	stub := &stubServer{manager: func() *rpc.ManagerResponse {
		return &rpc.ManagerResponse{ErrCode: errcode.Success}
	}}
	addr := startStub(t, stub)

	sender, err := New([]string{addr})
	require.NoError(t, err)
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := sender.Watch(ctx, &rpc.WatchRequest{})
	require.NoError(t, err)

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, rpc.EventSchemaChanged, ev.Kind)
	assert.Equal(t, "hello", ev.Key)
}
