// Package tso implements the monotonic timestamp oracle. Timestamps are
// (physical milliseconds since the epoch below, 18-bit logical counter).
// Only the physical upper bound the leader may issue below — the save
// window — is replicated; allocation itself is leader-local under a
// mutex, which is what makes the oracle fast.
package tso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

const (
	// BaseTimestampMs is the fixed epoch: 2020-01-01 00:00:00 UTC+8
	// (2019-12-31 16:00:00 UTC).
	BaseTimestampMs = 1577808000000

	// LogicalBits bounds the per-millisecond counter.
	LogicalBits = 18
	MaxLogical  = 1 << LogicalBits

	// SaveIntervalMs is the physical window committed ahead of issuance.
	SaveIntervalMs = 3000

	// UpdateInterval is the leader refresh tick.
	UpdateInterval = 50 * time.Millisecond
)

// Proposer submits a serialized record to the TSO replication group and
// waits for commit+apply.
type Proposer interface {
	Propose(data []byte, timeout time.Duration) (interface{}, error)
}

// syncRecord is the only replicated TSO record: a new physical upper
// bound.
type syncRecord struct {
	SavePhysical int64 `json:"save_physical"`
}

// Result is the completion value of an applied sync entry.
type Result struct {
	Code errcode.Code
	Msg  string
}

// StateMachine is the oracle. GenTso never proposes; the refresh fiber
// owns the replicated window.
type StateMachine struct {
	mu sync.Mutex

	current          types.TsoTimestamp
	lastSavePhysical int64

	// healthy flips once the first window sync of this leadership has
	// committed; GenTso refuses before that.
	healthy bool

	store    storage.Store
	proposer Proposer
	logger   zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// nowMs is injectable for tests; returns ms since BaseTimestampMs.
	nowMs func() int64
}

// New creates the oracle. The proposer is attached later with
// SetProposer because the replication group wraps this state machine.
func New(store storage.Store) *StateMachine {
	return &StateMachine{
		store:  store,
		logger: log.WithComponent("tso"),
		nowMs:  defaultNowMs,
	}
}

func defaultNowMs() int64 {
	return time.Now().UnixMilli() - BaseTimestampMs
}

// SetProposer attaches the replication group.
func (s *StateMachine) SetProposer(p Proposer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposer = p
}

// Apply consumes a committed sync record: the new upper bound lands in
// memory and in the KV checkpoint.
func (s *StateMachine) Apply(entry *raft.Log) interface{} {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RaftApplyDuration, rpc.GroupTso)

	var rec syncRecord
	if err := json.Unmarshal(entry.Data, &rec); err != nil {
		s.logger.Warn().Err(err).Msg("undecodable log entry consumed")
		return &Result{Code: errcode.ParseToPbFail, Msg: "decode sync record failed"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.SavePhysical > s.lastSavePhysical {
		s.lastSavePhysical = rec.SavePhysical
	}
	if err := storage.Put(s.store, storage.TsoSavePhysicalKey(), storage.EncodeInt64(s.lastSavePhysical)); err != nil {
		s.logger.Error().Err(err).Msg("kv write failed for tso save physical")
		return &Result{Code: errcode.InternalError, Msg: "write db fail"}
	}
	return &Result{Code: errcode.Success, Msg: "success"}
}

// GenTso allocates count consecutive timestamps and returns the first.
// Leader-local: no proposal, just the mutex.
func (s *StateMachine) GenTso(count int64) (types.TsoTimestamp, errcode.Code, string) {
	if count <= 0 {
		return types.TsoTimestamp{}, errcode.InputParamError, "count must be positive"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.healthy {
		return types.TsoTimestamp{}, errcode.HaveNotInit, "tso not ready"
	}
	if s.current.Logical+count >= MaxLogical {
		metrics.TsoRetriesTotal.Inc()
		return types.TsoTimestamp{}, errcode.RetryLater, "logical space exhausted, retry"
	}

	resp := s.current
	s.current.Logical += count
	metrics.TsoAllocationsTotal.Add(float64(count))
	return resp, errcode.Success, "success"
}

// OnLeaderStart brings the window current and starts the refresh fiber.
func (s *StateMachine) OnLeaderStart() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.leaderLoop(ctx)
}

// OnLeaderStop cancels the refresh fiber; no timestamp is issued after
// this returns.
func (s *StateMachine) OnLeaderStop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.healthy = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *StateMachine) leaderLoop(ctx context.Context) {
	defer s.wg.Done()

	if err := s.initLeader(ctx); err != nil {
		s.logger.Error().Err(err).Msg("tso leader init failed")
		return
	}

	ticker := time.NewTicker(UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.updateTimestamp(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("tso refresh failed")
			}
		}
	}
}

// initLeader recovers the committed bound and syncs a fresh window
// before the first timestamp of this leadership is issued.
func (s *StateMachine) initLeader(ctx context.Context) error {
	s.mu.Lock()
	last := s.lastSavePhysical
	if value, err := s.store.Get(storage.TsoSavePhysicalKey()); err == nil {
		if saved := storage.DecodeInt64(value); saved > last {
			last = saved
			s.lastSavePhysical = saved
		}
	}
	next := s.nowMs()
	if next <= last {
		next = last + 1
	}
	s.mu.Unlock()

	if err := s.proposeSync(ctx, next+SaveIntervalMs); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = types.TsoTimestamp{Physical: next, Logical: 0}
	s.healthy = true
	s.mu.Unlock()
	s.logger.Info().Int64("physical", next).Msg("tso leader ready")
	return nil
}

// updateTimestamp advances physical and extends the window when it is
// half consumed.
func (s *StateMachine) updateTimestamp(ctx context.Context) error {
	s.mu.Lock()
	prev := s.current
	last := s.lastSavePhysical
	healthy := s.healthy
	s.mu.Unlock()
	if !healthy {
		return nil
	}

	next := s.nowMs()
	if next <= prev.Physical {
		next = prev.Physical + 1
	}

	if next > last-SaveIntervalMs/2 {
		if err := s.proposeSync(ctx, next+SaveIntervalMs); err != nil {
			s.mu.Lock()
			s.healthy = false
			s.mu.Unlock()
			return err
		}
	}

	s.mu.Lock()
	// A sync may have bumped lastSavePhysical; physical stays below it.
	s.current = types.TsoTimestamp{Physical: next, Logical: 0}
	s.mu.Unlock()
	return nil
}

func (s *StateMachine) proposeSync(ctx context.Context, savePhysical int64) error {
	s.mu.Lock()
	proposer := s.proposer
	s.mu.Unlock()
	if proposer == nil {
		return fmt.Errorf("tso proposer not attached")
	}

	data, err := json.Marshal(&syncRecord{SavePhysical: savePhysical})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		resp, err := proposer.Propose(data, 5*time.Second)
		if err != nil {
			done <- err
			return
		}
		if res, isResult := resp.(*Result); isResult && !res.Code.OK() {
			done <- fmt.Errorf("tso sync apply failed: %s", res.Msg)
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// tsoSnapshot persists only the committed bound; logical is never saved.
type tsoSnapshot struct {
	SavePhysical int64 `json:"save_physical"`
}

// Snapshot captures last_save_physical.
func (s *StateMachine) Snapshot() (raft.FSMSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &tsoSnapshot{SavePhysical: s.lastSavePhysical}, nil
}

// Restore loads last_save_physical.
func (s *StateMachine) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap tsoSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode tso snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSavePhysical = snap.SavePhysical
	if err := storage.Put(s.store, storage.TsoSavePhysicalKey(), storage.EncodeInt64(snap.SavePhysical)); err != nil {
		return fmt.Errorf("failed to materialize tso snapshot: %w", err)
	}
	s.logger.Info().Int64("save_physical", snap.SavePhysical).Msg("tso snapshot restored")
	return nil
}

func (snap *tsoSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(snap); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (snap *tsoSnapshot) Release() {}
