// Package server is the discovery service front-end: it owns the three
// state machines and their replication groups, routes the RPC surface to
// them, and leader-gates mutations. Reads are answered locally on any
// peer; mutating calls on a follower come back NOT_LEADER with the
// remembered leader endpoint, and the router or client retries there.
package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/cuemby/beacon/pkg/autoincr"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/raftnode"
	"github.com/cuemby/beacon/pkg/registry"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/tso"
	"github.com/cuemby/beacon/pkg/types"
)

// Peer names one replica of the cluster: its stable node id and the
// client endpoint mutations should be redirected to.
type Peer struct {
	ID         string `yaml:"id"`
	ClientAddr string `yaml:"client_addr"`
}

// Config wires one discovery server.
type Config struct {
	NodeID     string `yaml:"node_id"`
	ClientAddr string `yaml:"client_addr"`
	// RaftAddr is the base raft endpoint; the three groups bind
	// consecutive ports starting here.
	RaftAddr  string `yaml:"raft_addr"`
	DataDir   string `yaml:"data_dir"`
	Bootstrap bool   `yaml:"bootstrap"`
	Peers     []Peer `yaml:"peers"`

	LivenessWindowS int64 `yaml:"liveness_window_s"`
	// InstanceTTLS enables the stale-instance compaction fiber when
	// nonzero.
	InstanceTTLS int64 `yaml:"instance_ttl_s"`
}

// Server implements rpc.DiscoveryServer on top of the three groups.
type Server struct {
	cfg    Config
	logger zerolog.Logger

	store    storage.Store
	broker   *events.Broker
	registry *registry.Registry
	autoincr *autoincr.StateMachine
	tso      *tso.StateMachine

	groups map[string]*raftnode.Group
	peers  map[string]string // node id -> client addr

	grpc   *grpc.Server
	stopCh chan struct{}
}

// raftAddrFor offsets the base raft address per group.
func raftAddrFor(base string, offset int) (string, error) {
	host, port, err := net.SplitHostPort(base)
	if err != nil {
		return "", fmt.Errorf("bad raft address %q: %w", base, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("bad raft port %q: %w", port, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(p+offset)), nil
}

// NewServer builds the store, the state machines and their replication
// groups. The caller owns Shutdown.
func NewServer(cfg Config) (*Server, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	regOpts := []registry.Option{registry.WithBroker(broker)}
	if cfg.LivenessWindowS > 0 {
		regOpts = append(regOpts, registry.WithLivenessWindow(time.Duration(cfg.LivenessWindowS)*time.Second))
	}
	reg := registry.New(store, regOpts...)
	inc := autoincr.New()
	oracle := tso.New(store)

	s := &Server{
		cfg:      cfg,
		logger:   log.WithComponent("server"),
		store:    store,
		broker:   broker,
		registry: reg,
		autoincr: inc,
		tso:      oracle,
		groups:   make(map[string]*raftnode.Group),
		peers:    make(map[string]string),
		stopCh:   make(chan struct{}),
	}
	for _, p := range cfg.Peers {
		s.peers[p.ID] = p.ClientAddr
	}
	s.peers[cfg.NodeID] = cfg.ClientAddr

	for i, gm := range []struct {
		name string
		sm   raftnode.StateMachine
	}{
		{rpc.GroupRegistry, reg},
		{rpc.GroupAutoIncr, inc},
		{rpc.GroupTso, oracle},
	} {
		bind, err := raftAddrFor(cfg.RaftAddr, i)
		if err != nil {
			return nil, err
		}
		group, err := raftnode.NewGroup(raftnode.Config{
			Group:     gm.name,
			NodeID:    cfg.NodeID,
			BindAddr:  bind,
			DataDir:   filepath.Join(cfg.DataDir, gm.name),
			Bootstrap: cfg.Bootstrap,
		}, gm.sm)
		if err != nil {
			return nil, fmt.Errorf("failed to start %s group: %w", gm.name, err)
		}
		s.groups[gm.name] = group
	}
	oracle.SetProposer(s.groups[rpc.GroupTso])

	if cfg.InstanceTTLS > 0 {
		go s.compactInstances(time.Duration(cfg.InstanceTTLS) * time.Second)
	}

	return s, nil
}

// Start serves the RPC surface on the client address. Blocks.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.ClientAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve runs the gRPC server on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.unaryInterceptor))
	rpc.RegisterDiscoveryServer(s.grpc, s)
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("discovery api listening")
	return s.grpc.Serve(lis)
}

// Stop tears everything down: RPC first, then the groups, then storage.
func (s *Server) Stop() error {
	close(s.stopCh)
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	s.broker.Stop()
	var firstErr error
	for _, group := range s.groups {
		if err := group.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Registry exposes the registry for tests and the admin surface.
func (s *Server) Registry() *registry.Registry { return s.registry }

// unaryInterceptor records request metrics and slow-call logs.
func (s *Server) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	timer := metrics.NewTimer()
	resp, err := handler(ctx, req)
	metrics.APIRequestDuration.WithLabelValues(info.FullMethod).Observe(timer.Duration().Seconds())

	code := "transport_error"
	if r, isResp := resp.(rpc.Response); isResp && err == nil {
		code = r.Errcode().String()
	}
	metrics.APIRequestsTotal.WithLabelValues(info.FullMethod, code).Inc()
	if timer.Duration() > time.Second {
		s.logger.Warn().Str("method", info.FullMethod).Dur("took", timer.Duration()).Msg("slow request")
	}
	return resp, err
}

// leaderHint maps a group's leader to its client endpoint. Falls back to
// the raft address when the peer set does not know the id.
func (s *Server) leaderHint(group *raftnode.Group) string {
	addr, id := group.LeaderWithID()
	if client, known := s.peers[id]; known {
		return client
	}
	return addr
}

// compactInstances is the opt-in stale-instance eviction fiber: on the
// registry leader, propose DropInstance for addresses past the TTL.
func (s *Server) compactInstances(ttl time.Duration) {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	group := s.groups[rpc.GroupRegistry]

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !group.IsLeader() {
				continue
			}
			for _, addr := range s.registry.StaleInstances(ttl, time.Now()) {
				req := &rpc.ManagerRequest{
					Op:       rpc.OpDropInstance,
					Instance: &types.Instance{Address: addr},
				}
				resp := s.proposeRegistry(req)
				if !resp.ErrCode.OK() {
					s.logger.Warn().Str("instance", addr).Str("errcode", resp.ErrCode.String()).Msg("stale instance eviction failed")
					continue
				}
				s.logger.Info().Str("instance", addr).Msg("stale instance evicted")
			}
		}
	}
}
