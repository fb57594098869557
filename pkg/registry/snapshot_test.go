package registry

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// memSink collects a snapshot into memory.
type memSink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memSink) ID() string    { return "test-snapshot" }
func (s *memSink) Cancel() error { s.cancelled = true; return nil }
func (s *memSink) Close() error  { return nil }

func snapshotBytes(t *testing.T, r *Registry) []byte {
	t.Helper()
	snap, err := r.Snapshot()
	require.NoError(t, err)
	sink := &memSink{}
	require.NoError(t, snap.Persist(sink))
	require.False(t, sink.cancelled)
	snap.Release()
	return sink.Bytes()
}

func populated(t *testing.T, r *Registry) {
	t.Helper()
	createHierarchy(t, r)
	registerAt(t, r, "10.0.0.2:80", "prod", "green", time.Unix(1_700_000_000, 0).Unix())
	registerAt(t, r, "10.0.0.1:80", "prod", "blue", time.Unix(1_700_000_000, 0).Unix())
	apply(t, r, &rpc.ManagerRequest{
		Op:   rpc.OpCreateUser,
		User: &rpc.UserOp{Username: "ops", Password: "secret"},
	})
	createConfig(t, r, "routing", "1.2.3", "weights: even")
}

func TestSnapshotRoundTripIsByteIdentical(t *testing.T) {
	r1 := newTestRegistry(t)
	populated(t, r1)
	first := snapshotBytes(t, r1)

	r2 := newTestRegistry(t)
	require.NoError(t, r2.Restore(io.NopCloser(bytes.NewReader(first))))
	second := snapshotBytes(t, r2)

	assert.Equal(t, first, second)
}

func TestRestoreRebuildsIndexesAndKV(t *testing.T) {
	r1 := newTestRegistry(t)
	populated(t, r1)
	data := snapshotBytes(t, r1)

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	r2 := New(store)

	// pre-existing garbage in the target must not survive restore
	res := apply(t, r2, &rpc.ManagerRequest{Op: rpc.OpCreateApp, App: &types.App{Name: "doomed"}})
	require.Equal(t, errcode.Success, res.Code)

	require.NoError(t, r2.Restore(io.NopCloser(bytes.NewReader(data))))

	_, code, _ := r2.QueryApps("doomed")
	assert.Equal(t, errcode.InputParamError, code)

	apps, code, _ := r2.QueryApps("search")
	require.Equal(t, errcode.Success, code)
	assert.Equal(t, int64(1), apps[0].ID)

	instances, code, _ := r2.QueryInstanceFlatten("search", "web", "query")
	require.Equal(t, errcode.Success, code)
	assert.Len(t, instances, 2)

	cfg, code, _ := r2.GetConfig("routing", "")
	require.Equal(t, errcode.Success, code)
	assert.Equal(t, "1.2.3", cfg.Version)

	// ids advance from the restored max; the pre-restore allocation is gone
	res = apply(t, r2, &rpc.ManagerRequest{Op: rpc.OpCreateApp, App: &types.App{Name: "next"}})
	require.Equal(t, errcode.Success, res.Code)
	apps, _, _ = r2.QueryApps("next")
	assert.Equal(t, int64(2), apps[0].ID)
}

// The in-memory index must agree with the KV projection after applies.
func TestIndexesMatchKV(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	r := New(store)
	populated(t, r)

	var kvApps []types.App
	require.NoError(t, store.ScanPrefix(storage.AppPrefix(), func(_, value []byte) error {
		var app types.App
		if err := json.Unmarshal(value, &app); err != nil {
			return err
		}
		kvApps = append(kvApps, app)
		return nil
	}))
	memApps, code, _ := r.QueryApps("")
	require.Equal(t, errcode.Success, code)
	assert.Equal(t, memApps, kvApps)

	var kvInstances []types.Instance
	require.NoError(t, store.ScanPrefix(storage.InstancePrefix(), func(_, value []byte) error {
		var in types.Instance
		if err := json.Unmarshal(value, &in); err != nil {
			return err
		}
		kvInstances = append(kvInstances, in)
		return nil
	}))
	memInstances, code, _ := r.QueryInstanceFlatten("", "", "")
	require.Equal(t, errcode.Success, code)
	assert.Equal(t, memInstances, kvInstances)

	maxValue, err := store.Get(storage.MaxAppIDKey())
	require.NoError(t, err)
	assert.Equal(t, int64(1), storage.DecodeInt64(maxValue))
}
