// Package client is the retrying Beacon client used by the CLI, the
// router peer and servlet processes. It remembers the leader hint from
// NOT_LEADER replies, rebinds, and retries with a fixed backoff.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/rpc"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxRetry      = 3
	DefaultRetryInterval = 1000 * time.Millisecond
)

// Option tweaks sender construction.
type Option func(*Sender)

// WithTimeout sets the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) { s.timeout = d }
}

// WithMaxRetry bounds the retry loop.
func WithMaxRetry(n int) Option {
	return func(s *Sender) { s.maxRetry = n }
}

// WithRetryInterval sets the backoff between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Sender) { s.retryInterval = d }
}

// Sender fans requests out to a replica set, following leader hints.
type Sender struct {
	timeout       time.Duration
	maxRetry      int
	retryInterval time.Duration

	mu      sync.Mutex
	servers []string
	leader  string
	rr      int
	conns   map[string]*grpc.ClientConn
}

// New creates a sender over the given replica endpoints.
func New(servers []string, opts ...Option) (*Sender, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers")
	}
	s := &Sender{
		timeout:       DefaultTimeout,
		maxRetry:      DefaultMaxRetry,
		retryInterval: DefaultRetryInterval,
		servers:       append([]string(nil), servers...),
		conns:         make(map[string]*grpc.ClientConn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close tears down every cached connection.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, conn := range s.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}

func (s *Sender) client(addr string) (*rpc.DiscoveryClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, cached := s.conns[addr]; cached {
		return rpc.NewDiscoveryClient(conn), nil
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	s.conns[addr] = conn
	return rpc.NewDiscoveryClient(conn), nil
}

// pick returns the remembered leader, or round-robins the replica set.
func (s *Sender) pick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leader != "" {
		return s.leader
	}
	addr := s.servers[s.rr%len(s.servers)]
	s.rr++
	return addr
}

func (s *Sender) rebind(hint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = hint
}

// Leader returns the currently remembered leader endpoint.
func (s *Sender) Leader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader
}

// send drives one logical request through the retry loop. call performs
// a single attempt against addr.
func send[Resp rpc.Response](ctx context.Context, s *Sender, call func(ctx context.Context, c *rpc.DiscoveryClient) (Resp, error)) (Resp, error) {
	var zero Resp
	var lastErr error
	for attempt := 0; attempt <= s.maxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(s.retryInterval):
			}
		}

		addr := s.pick()
		c, err := s.client(addr)
		if err != nil {
			lastErr = err
			s.rebind("")
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		resp, err := call(attemptCtx, c)
		cancel()
		if err != nil {
			log.Debug(fmt.Sprintf("request to %s failed: %v", addr, err))
			lastErr = err
			s.rebind("")
			continue
		}
		if resp.Errcode() == errcode.NotLeader {
			hint := resp.LeaderHint()
			log.Debug(fmt.Sprintf("%s is not leader, rebinding to %q", addr, hint))
			s.rebind(hint)
			lastErr = fmt.Errorf("not leader, hint %q", hint)
			continue
		}
		return resp, nil
	}
	return zero, fmt.Errorf("retries exhausted: %w", lastErr)
}

// Manager submits a mutation.
func (s *Sender) Manager(ctx context.Context, req *rpc.ManagerRequest) (*rpc.ManagerResponse, error) {
	return send(ctx, s, func(ctx context.Context, c *rpc.DiscoveryClient) (*rpc.ManagerResponse, error) {
		return c.Manager(ctx, req)
	})
}

// Query runs a read.
func (s *Sender) Query(ctx context.Context, req *rpc.QueryRequest) (*rpc.QueryResponse, error) {
	return send(ctx, s, func(ctx context.Context, c *rpc.DiscoveryClient) (*rpc.QueryResponse, error) {
		return c.Query(ctx, req)
	})
}

// Naming runs a liveness-filtered discovery.
func (s *Sender) Naming(ctx context.Context, req *rpc.NamingRequest) (*rpc.NamingResponse, error) {
	return send(ctx, s, func(ctx context.Context, c *rpc.DiscoveryClient) (*rpc.NamingResponse, error) {
		return c.Naming(ctx, req)
	})
}

// Register registers or heartbeats an instance.
func (s *Sender) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	return send(ctx, s, func(ctx context.Context, c *rpc.DiscoveryClient) (*rpc.RegisterResponse, error) {
		return c.Register(ctx, req)
	})
}

// Update updates an instance's mutable fields.
func (s *Sender) Update(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	return send(ctx, s, func(ctx context.Context, c *rpc.DiscoveryClient) (*rpc.RegisterResponse, error) {
		return c.Update(ctx, req)
	})
}

// Cancel removes an instance.
func (s *Sender) Cancel(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	return send(ctx, s, func(ctx context.Context, c *rpc.DiscoveryClient) (*rpc.RegisterResponse, error) {
		return c.Cancel(ctx, req)
	})
}

// Tso allocates timestamps.
func (s *Sender) Tso(ctx context.Context, req *rpc.TsoRequest) (*rpc.TsoResponse, error) {
	return send(ctx, s, func(ctx context.Context, c *rpc.DiscoveryClient) (*rpc.TsoResponse, error) {
		return c.Tso(ctx, req)
	})
}

// RaftControl runs an operator op against a replication group.
func (s *Sender) RaftControl(ctx context.Context, req *rpc.RaftControlRequest) (*rpc.RaftControlResponse, error) {
	return send(ctx, s, func(ctx context.Context, c *rpc.DiscoveryClient) (*rpc.RaftControlResponse, error) {
		return c.RaftControl(ctx, req)
	})
}

// Watch opens an event stream against one replica (the remembered
// leader, else round-robin). Streams do not retry; callers reopen.
func (s *Sender) Watch(ctx context.Context, req *rpc.WatchRequest) (*rpc.DiscoveryWatchClient, error) {
	c, err := s.client(s.pick())
	if err != nil {
		return nil, err
	}
	return c.Watch(ctx, req)
}
