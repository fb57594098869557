// Package raftnode adapts hashicorp/raft into the replication groups the
// Beacon state machines run on. Each group owns its own log, stable
// store, snapshot directory and TCP transport; the state machine behind
// it sees a deterministic apply stream plus leadership callbacks.
package raftnode

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
)

// ErrNotLeader is returned by Propose on a follower. Callers translate it
// into a NOT_LEADER response carrying the leader hint.
var ErrNotLeader = errors.New("raftnode: not the leader")

// StateMachine is the contract a replicated consumer implements: the
// raft.FSM apply/snapshot surface plus leadership hooks used to start and
// stop leader-only housekeeping.
type StateMachine interface {
	raft.FSM
	OnLeaderStart()
	OnLeaderStop()
}

// Config describes one replication group on this node.
type Config struct {
	Group     string
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool

	// Optional overrides; zero values pick the defaults below.
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	SnapshotInterval time.Duration
	SnapshotRetain   int
}

// Group is one live replication group.
type Group struct {
	name string
	sm   StateMachine

	raft        *raft.Raft
	transport   *raft.NetworkTransport
	logStore    *raftboltdb.BoltStore
	stableStore *raftboltdb.BoltStore

	notifyCh chan bool
	doneCh   chan struct{}
	logger   zerolog.Logger
}

// NewGroup builds the group's stores and transport, starts raft and the
// leadership watcher, and optionally bootstraps a single-node cluster.
func NewGroup(cfg Config, sm StateMachine) (*Group, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create raft dir: %w", err)
	}

	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(cfg.NodeID)

	// LAN-tuned timeouts, same rationale as the rest of the cluster
	// stack: fast failure detection beats WAN conservatism here.
	rc.HeartbeatTimeout = 500 * time.Millisecond
	rc.ElectionTimeout = 500 * time.Millisecond
	rc.CommitTimeout = 50 * time.Millisecond
	rc.LeaderLeaseTimeout = 250 * time.Millisecond
	if cfg.HeartbeatTimeout > 0 {
		rc.HeartbeatTimeout = cfg.HeartbeatTimeout
	}
	if cfg.ElectionTimeout > 0 {
		rc.ElectionTimeout = cfg.ElectionTimeout
	}
	if cfg.SnapshotInterval > 0 {
		rc.SnapshotInterval = cfg.SnapshotInterval
	}

	notifyCh := make(chan bool, 8)
	rc.NotifyCh = notifyCh

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	retain := cfg.SnapshotRetain
	if retain == 0 {
		retain = 2
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, retain, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(rc, sm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	g := &Group{
		name:        cfg.Group,
		sm:          sm,
		raft:        r,
		transport:   transport,
		logStore:    logStore,
		stableStore: stableStore,
		notifyCh:    notifyCh,
		doneCh:      make(chan struct{}),
		logger:      log.WithGroup(cfg.Group),
	}
	go g.watchLeadership()

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{ID: rc.LocalID, Address: transport.LocalAddr()},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
	}

	return g, nil
}

func (g *Group) watchLeadership() {
	for {
		select {
		case leading := <-g.notifyCh:
			if leading {
				g.logger.Info().Msg("leadership acquired")
				metrics.RaftLeader.WithLabelValues(g.name).Set(1)
				g.sm.OnLeaderStart()
			} else {
				g.logger.Info().Msg("leadership lost")
				metrics.RaftLeader.WithLabelValues(g.name).Set(0)
				g.sm.OnLeaderStop()
			}
		case <-g.doneCh:
			return
		}
	}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Propose submits a serialized request record and waits for commit and
// apply. The returned value is whatever the state machine's Apply
// returned for the entry — the per-proposal completion handle.
func (g *Group) Propose(data []byte, timeout time.Duration) (interface{}, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RaftCommitDuration, g.name)

	future := g.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) ||
			errors.Is(err, raft.ErrLeadershipTransferInProgress) {
			return nil, ErrNotLeader
		}
		return nil, fmt.Errorf("propose failed: %w", err)
	}
	metrics.RaftAppliedIndex.WithLabelValues(g.name).Set(float64(g.raft.AppliedIndex()))
	return future.Response(), nil
}

// IsLeader reports whether this node currently leads the group.
func (g *Group) IsLeader() bool {
	return g.raft.State() == raft.Leader
}

// LeaderWithID returns the raft address and server id of the current
// leader; both are empty when no leader is known.
func (g *Group) LeaderWithID() (string, string) {
	addr, id := g.raft.LeaderWithID()
	return string(addr), string(id)
}

// AddVoter adds a peer to the group. Leader only.
func (g *Group) AddVoter(nodeID, address string) error {
	if !g.IsLeader() {
		return ErrNotLeader
	}
	future := g.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a peer from the group. Leader only.
func (g *Group) RemoveServer(nodeID string) error {
	if !g.IsLeader() {
		return ErrNotLeader
	}
	future := g.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// TransferLeadership hands the group off, optionally to a named peer.
func (g *Group) TransferLeadership(nodeID, address string) error {
	if !g.IsLeader() {
		return ErrNotLeader
	}
	var future raft.Future
	if nodeID == "" {
		future = g.raft.LeadershipTransfer()
	} else {
		future = g.raft.LeadershipTransferToServer(raft.ServerID(nodeID), raft.ServerAddress(address))
	}
	return future.Error()
}

// Snapshot forces a snapshot of the group's state machine.
func (g *Group) Snapshot() error {
	return g.raft.Snapshot().Error()
}

// Servers lists the group's current peer set.
func (g *Group) Servers() ([]raft.Server, error) {
	future := g.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// Stats exposes raft's string stats map for the control surface.
func (g *Group) Stats() map[string]string {
	return g.raft.Stats()
}

// AppliedIndex returns the last applied log index.
func (g *Group) AppliedIndex() uint64 {
	return g.raft.AppliedIndex()
}

// LastIndex returns the last log index.
func (g *Group) LastIndex() uint64 {
	return g.raft.LastIndex()
}

// State returns the raft state string.
func (g *Group) State() string {
	return g.raft.State().String()
}

// Shutdown stops raft, the leadership watcher and the backing stores.
func (g *Group) Shutdown() error {
	close(g.doneCh)
	if err := g.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("failed to shutdown raft: %w", err)
	}
	g.transport.Close()
	if err := g.logStore.Close(); err != nil {
		return err
	}
	return g.stableStore.Close()
}
