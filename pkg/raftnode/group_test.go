package raftnode

import (
	"encoding/json"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterFSM is a minimal consumer: every entry adds its decoded value.
type counterFSM struct {
	total       atomic.Int64
	leaderGains atomic.Int64
	leaderDrops atomic.Int64
}

type counterSnapshot struct {
	total int64
}

func (f *counterFSM) Apply(entry *raft.Log) interface{} {
	var v int64
	if err := json.Unmarshal(entry.Data, &v); err != nil {
		return err
	}
	return f.total.Add(v)
}

func (f *counterFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &counterSnapshot{total: f.total.Load()}, nil
}

func (f *counterFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var total int64
	if err := json.NewDecoder(rc).Decode(&total); err != nil {
		return err
	}
	f.total.Store(total)
	return nil
}

func (f *counterFSM) OnLeaderStart() { f.leaderGains.Add(1) }
func (f *counterFSM) OnLeaderStop()  { f.leaderDrops.Add(1) }

func (s *counterSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.total); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *counterSnapshot) Release() {}

func freePort(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()
	return addr
}

func TestSingleNodeGroupProposes(t *testing.T) {
	fsm := &counterFSM{}
	group, err := NewGroup(Config{
		Group:     "test",
		NodeID:    "node-1",
		BindAddr:  freePort(t),
		DataDir:   t.TempDir(),
		Bootstrap: true,
	}, fsm)
	require.NoError(t, err)
	defer group.Shutdown()

	require.Eventually(t, group.IsLeader, 10*time.Second, 50*time.Millisecond,
		"single node never elected itself")

	// leadership hook fired
	require.Eventually(t, func() bool { return fsm.leaderGains.Load() == 1 },
		5*time.Second, 10*time.Millisecond)

	// the apply return value is the proposal's completion handle
	for want := int64(1); want <= 3; want++ {
		data, err := json.Marshal(int64(1))
		require.NoError(t, err)
		result, err := group.Propose(data, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, result)
	}
	assert.Equal(t, int64(3), fsm.total.Load())

	addr, id := group.LeaderWithID()
	assert.Equal(t, "node-1", id)
	assert.NotEmpty(t, addr)

	servers, err := group.Servers()
	require.NoError(t, err)
	assert.Len(t, servers, 1)
}
