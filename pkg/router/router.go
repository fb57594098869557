// Package router implements the stateless forwarder peer: it serves the
// same method surface as the discovery servers, holds no raft state, and
// hides leader changes from clients by following NOT_LEADER hints with
// bounded retries.
package router

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/cuemby/beacon/pkg/client"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/rpc"
)

// Router forwards every call through a retrying sender.
type Router struct {
	sender *client.Sender
	logger zerolog.Logger
	grpc   *grpc.Server
}

// New creates a router over the replica endpoints.
func New(servers []string, opts ...client.Option) (*Router, error) {
	sender, err := client.New(servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}
	return &Router{
		sender: sender,
		logger: log.WithComponent("router"),
	}, nil
}

// Start serves the forwarding surface on addr. Blocks.
func (r *Router) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return r.Serve(lis)
}

// Serve runs the router on an existing listener.
func (r *Router) Serve(lis net.Listener) error {
	r.grpc = grpc.NewServer()
	rpc.RegisterDiscoveryServer(r.grpc, r)
	r.logger.Info().Str("addr", lis.Addr().String()).Msg("router listening")
	return r.grpc.Serve(lis)
}

// Stop shuts the router down.
func (r *Router) Stop() error {
	if r.grpc != nil {
		r.grpc.GracefulStop()
	}
	return r.sender.Close()
}

func observe[Resp rpc.Response](method string, resp Resp, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	} else if !resp.Errcode().OK() {
		outcome = resp.Errcode().String()
	}
	metrics.RouterForwardsTotal.WithLabelValues(method, outcome).Inc()
}

func (r *Router) Manager(ctx context.Context, req *rpc.ManagerRequest) (*rpc.ManagerResponse, error) {
	resp, err := r.sender.Manager(ctx, req)
	observe("Manager", resp, err)
	return resp, err
}

func (r *Router) Query(ctx context.Context, req *rpc.QueryRequest) (*rpc.QueryResponse, error) {
	resp, err := r.sender.Query(ctx, req)
	observe("Query", resp, err)
	return resp, err
}

func (r *Router) Naming(ctx context.Context, req *rpc.NamingRequest) (*rpc.NamingResponse, error) {
	resp, err := r.sender.Naming(ctx, req)
	observe("Naming", resp, err)
	return resp, err
}

func (r *Router) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	resp, err := r.sender.Register(ctx, req)
	observe("Register", resp, err)
	return resp, err
}

func (r *Router) Update(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	resp, err := r.sender.Update(ctx, req)
	observe("Update", resp, err)
	return resp, err
}

func (r *Router) Cancel(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	resp, err := r.sender.Cancel(ctx, req)
	observe("Cancel", resp, err)
	return resp, err
}

func (r *Router) Tso(ctx context.Context, req *rpc.TsoRequest) (*rpc.TsoResponse, error) {
	resp, err := r.sender.Tso(ctx, req)
	observe("Tso", resp, err)
	return resp, err
}

func (r *Router) RaftControl(ctx context.Context, req *rpc.RaftControlRequest) (*rpc.RaftControlResponse, error) {
	resp, err := r.sender.RaftControl(ctx, req)
	observe("RaftControl", resp, err)
	return resp, err
}

// Watch proxies the event stream from one replica to the caller.
func (r *Router) Watch(req *rpc.WatchRequest, stream rpc.DiscoveryWatchServer) error {
	upstream, err := r.sender.Watch(stream.Context(), req)
	if err != nil {
		return err
	}
	for {
		ev, err := upstream.Recv()
		if err != nil {
			return err
		}
		if err := stream.Send(ev); err != nil {
			return err
		}
	}
}
