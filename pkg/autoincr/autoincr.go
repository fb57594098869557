// Package autoincr implements the replicated per-servlet id generator:
// a map of monotonic counters advanced by ranged allocations. Every
// operation is proposed; the apply result carries the allocated range
// back to the caller.
package autoincr

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/rpc"
)

// Result is the completion value for one applied entry. StartID/EndID
// bound the allocated range [StartID, EndID) for gen_id.
type Result struct {
	Code    errcode.Code
	Msg     string
	StartID uint64
	EndID   uint64
}

// StateMachine holds the counter map. Apply is the single writer; the
// mutex fences snapshot readers.
type StateMachine struct {
	mu      sync.RWMutex
	next    map[int64]uint64
	logger zerolog.Logger
}

// New creates an empty generator.
func New() *StateMachine {
	return &StateMachine{
		next:   make(map[int64]uint64),
		logger: log.WithComponent("autoincr"),
	}
}

// Apply consumes one committed entry.
func (s *StateMachine) Apply(entry *raft.Log) interface{} {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RaftApplyDuration, rpc.GroupAutoIncr)

	var req rpc.ManagerRequest
	if err := json.Unmarshal(entry.Data, &req); err != nil {
		s.logger.Warn().Err(err).Msg("undecodable log entry consumed")
		return &Result{Code: errcode.ParseToPbFail, Msg: "decode request record failed"}
	}
	if req.AutoIncr == nil {
		return &Result{Code: errcode.InputParamError, Msg: "no auto increment payload"}
	}

	switch req.Op {
	case rpc.OpAddServletID:
		return s.addServletID(req.AutoIncr)
	case rpc.OpDropServletID:
		return s.dropServletID(req.AutoIncr)
	case rpc.OpGenID:
		return s.genID(req.AutoIncr)
	case rpc.OpUpdateAutoIncr:
		return s.update(req.AutoIncr)
	default:
		return &Result{Code: errcode.InputParamError, Msg: "unknown op: " + req.Op}
	}
}

func (s *StateMachine) addServletID(op *rpc.AutoIncrOp) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.next[op.ServletID]; exists {
		return &Result{Code: errcode.InputParamError, Msg: "servlet id already exists"}
	}
	var start uint64 = 1
	if op.Start != nil {
		start = *op.Start
	}
	s.next[op.ServletID] = start
	s.logger.Info().Int64("servlet_id", op.ServletID).Uint64("start", start).Msg("servlet counter added")
	return &Result{Code: errcode.Success, Msg: "success", StartID: start, EndID: start}
}

func (s *StateMachine) dropServletID(op *rpc.AutoIncrOp) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.next[op.ServletID]; !exists {
		return &Result{Code: errcode.InputParamError, Msg: "servlet id not exist"}
	}
	delete(s.next, op.ServletID)
	s.logger.Info().Int64("servlet_id", op.ServletID).Msg("servlet counter dropped")
	return &Result{Code: errcode.Success, Msg: "success"}
}

func (s *StateMachine) genID(op *rpc.AutoIncrOp) *Result {
	if op.Count == 0 {
		return &Result{Code: errcode.InputParamError, Msg: "count must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.next[op.ServletID]
	if !exists {
		return &Result{Code: errcode.InputParamError, Msg: "servlet id not exist"}
	}
	s.next[op.ServletID] = cur + op.Count
	return &Result{Code: errcode.Success, Msg: "success", StartID: cur, EndID: cur + op.Count}
}

// update resets or advances a counter. Moving the counter backwards
// needs force; otherwise the request fails and state is unchanged.
func (s *StateMachine) update(op *rpc.AutoIncrOp) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.next[op.ServletID]
	if !exists {
		return &Result{Code: errcode.InputParamError, Msg: "servlet id not exist"}
	}

	switch {
	case op.Start != nil:
		if *op.Start < cur && !op.Force {
			return &Result{Code: errcode.InputParamError, Msg: "decreasing counter requires force"}
		}
		s.next[op.ServletID] = *op.Start
	case op.Increment != nil:
		s.next[op.ServletID] = cur + *op.Increment
	default:
		return &Result{Code: errcode.InputParamError, Msg: "no start or increment"}
	}
	s.logger.Info().Int64("servlet_id", op.ServletID).Uint64("next", s.next[op.ServletID]).Msg("servlet counter updated")
	return &Result{Code: errcode.Success, Msg: "success", StartID: s.next[op.ServletID], EndID: s.next[op.ServletID]}
}

// counterEntry is one snapshot row; rows are sorted by servlet id so the
// snapshot document is byte-stable across round trips.
type counterEntry struct {
	ServletID int64  `json:"servlet_id"`
	Next      uint64 `json:"next"`
}

type autoIncrSnapshot struct {
	entries []counterEntry
}

// Snapshot serializes the counter map.
func (s *StateMachine) Snapshot() (raft.FSMSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]counterEntry, 0, len(s.next))
	for id, next := range s.next {
		entries = append(entries, counterEntry{ServletID: id, Next: next})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ServletID < entries[j].ServletID })
	return &autoIncrSnapshot{entries: entries}, nil
}

// Restore replaces the counter map.
func (s *StateMachine) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var entries []counterEntry
	if err := json.NewDecoder(rc).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode auto increment snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = make(map[int64]uint64, len(entries))
	for _, e := range entries {
		s.next[e.ServletID] = e.Next
	}
	s.logger.Info().Int("counters", len(entries)).Msg("auto increment snapshot restored")
	return nil
}

// Peek returns the next value for a counter; read-only, for queries and
// tests.
func (s *StateMachine) Peek(servletID int64) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, exists := s.next[servletID]
	return v, exists
}

// OnLeaderStart implements the leadership hook; nothing runs leader-only.
func (s *StateMachine) OnLeaderStart() {}

// OnLeaderStop implements the leadership hook.
func (s *StateMachine) OnLeaderStop() {}

func (snap *autoIncrSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(snap.entries); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (snap *autoIncrSnapshot) Release() {}
