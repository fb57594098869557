package autoincr

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/rpc"
)

func applyOp(t *testing.T, s *StateMachine, op string, payload *rpc.AutoIncrOp) *Result {
	t.Helper()
	data, err := json.Marshal(&rpc.ManagerRequest{Op: op, AutoIncr: payload})
	require.NoError(t, err)
	res, isResult := s.Apply(&raft.Log{Data: data}).(*Result)
	require.True(t, isResult, "apply must return *Result")
	return res
}

func uptr(v uint64) *uint64 { return &v }

func TestRangedAllocation(t *testing.T) {
	s := New()

	res := applyOp(t, s, rpc.OpAddServletID, &rpc.AutoIncrOp{ServletID: 7, Start: uptr(100)})
	require.Equal(t, errcode.Success, res.Code)

	res = applyOp(t, s, rpc.OpGenID, &rpc.AutoIncrOp{ServletID: 7, Count: 5})
	require.Equal(t, errcode.Success, res.Code)
	assert.Equal(t, uint64(100), res.StartID)
	assert.Equal(t, uint64(105), res.EndID)

	res = applyOp(t, s, rpc.OpGenID, &rpc.AutoIncrOp{ServletID: 7, Count: 3})
	require.Equal(t, errcode.Success, res.Code)
	assert.Equal(t, uint64(105), res.StartID)
	assert.Equal(t, uint64(108), res.EndID)
}

func TestAddExistingFails(t *testing.T) {
	s := New()
	require.Equal(t, errcode.Success, applyOp(t, s, rpc.OpAddServletID, &rpc.AutoIncrOp{ServletID: 7}).Code)
	assert.Equal(t, errcode.InputParamError, applyOp(t, s, rpc.OpAddServletID, &rpc.AutoIncrOp{ServletID: 7}).Code)
}

func TestGenOnAbsentCounterFails(t *testing.T) {
	s := New()
	res := applyOp(t, s, rpc.OpGenID, &rpc.AutoIncrOp{ServletID: 9, Count: 1})
	assert.Equal(t, errcode.InputParamError, res.Code)
}

func TestDrop(t *testing.T) {
	s := New()
	applyOp(t, s, rpc.OpAddServletID, &rpc.AutoIncrOp{ServletID: 7})
	require.Equal(t, errcode.Success, applyOp(t, s, rpc.OpDropServletID, &rpc.AutoIncrOp{ServletID: 7}).Code)
	assert.Equal(t, errcode.InputParamError, applyOp(t, s, rpc.OpDropServletID, &rpc.AutoIncrOp{ServletID: 7}).Code)
}

func TestUpdateBackwardsNeedsForce(t *testing.T) {
	s := New()
	applyOp(t, s, rpc.OpAddServletID, &rpc.AutoIncrOp{ServletID: 7, Start: uptr(100)})
	applyOp(t, s, rpc.OpGenID, &rpc.AutoIncrOp{ServletID: 7, Count: 8})

	res := applyOp(t, s, rpc.OpUpdateAutoIncr, &rpc.AutoIncrOp{ServletID: 7, Start: uptr(50)})
	assert.Equal(t, errcode.InputParamError, res.Code)
	next, _ := s.Peek(7)
	assert.Equal(t, uint64(108), next, "failed update leaves state unchanged")

	res = applyOp(t, s, rpc.OpUpdateAutoIncr, &rpc.AutoIncrOp{ServletID: 7, Start: uptr(50), Force: true})
	require.Equal(t, errcode.Success, res.Code)

	res = applyOp(t, s, rpc.OpGenID, &rpc.AutoIncrOp{ServletID: 7, Count: 1})
	require.Equal(t, errcode.Success, res.Code)
	assert.Equal(t, uint64(50), res.StartID)
}

func TestUpdateByIncrement(t *testing.T) {
	s := New()
	applyOp(t, s, rpc.OpAddServletID, &rpc.AutoIncrOp{ServletID: 7, Start: uptr(10)})
	res := applyOp(t, s, rpc.OpUpdateAutoIncr, &rpc.AutoIncrOp{ServletID: 7, Increment: uptr(90)})
	require.Equal(t, errcode.Success, res.Code)
	next, _ := s.Peek(7)
	assert.Equal(t, uint64(100), next)
}

type memSink struct {
	bytes.Buffer
}

func (s *memSink) ID() string    { return "test" }
func (s *memSink) Cancel() error { return nil }
func (s *memSink) Close() error  { return nil }

func snapshotBytes(t *testing.T, s *StateMachine) []byte {
	t.Helper()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	sink := &memSink{}
	require.NoError(t, snap.Persist(sink))
	return sink.Bytes()
}

func TestSnapshotRoundTrip(t *testing.T) {
	s1 := New()
	// ids above 9 would break a lexicographically-keyed snapshot; the
	// sorted-array layout keeps numeric order
	for _, id := range []int64{7, 10, 2} {
		applyOp(t, s1, rpc.OpAddServletID, &rpc.AutoIncrOp{ServletID: id, Start: uptr(uint64(id * 100))})
	}
	first := snapshotBytes(t, s1)

	s2 := New()
	require.NoError(t, s2.Restore(io.NopCloser(bytes.NewReader(first))))
	second := snapshotBytes(t, s2)
	assert.Equal(t, first, second)

	next, exists := s2.Peek(10)
	require.True(t, exists)
	assert.Equal(t, uint64(1000), next)
}
