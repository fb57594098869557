package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func apply(t *testing.T, r *Registry, req *rpc.ManagerRequest) *Result {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	res, isResult := r.Apply(&raft.Log{Data: data}).(*Result)
	require.True(t, isResult, "apply must return *Result")
	return res
}

func createHierarchy(t *testing.T, r *Registry) {
	t.Helper()
	res := apply(t, r, &rpc.ManagerRequest{
		Op:  rpc.OpCreateApp,
		App: &types.App{Name: "search", Quota: 100},
	})
	require.Equal(t, errcode.Success, res.Code)

	res = apply(t, r, &rpc.ManagerRequest{
		Op:   rpc.OpCreateZone,
		Zone: &types.Zone{AppName: "search", Name: "web", Quota: 10},
	})
	require.Equal(t, errcode.Success, res.Code)

	res = apply(t, r, &rpc.ManagerRequest{
		Op:      rpc.OpCreateServlet,
		Servlet: &types.Servlet{AppName: "search", ZoneName: "web", Name: "query"},
	})
	require.Equal(t, errcode.Success, res.Code)
}

func TestCreateHierarchyAssignsIDs(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)

	apps, code, _ := r.QueryApps("search")
	require.Equal(t, errcode.Success, code)
	require.Len(t, apps, 1)
	assert.Equal(t, int64(1), apps[0].ID)
	assert.Equal(t, int64(1), apps[0].Version)
	assert.Equal(t, int64(100), apps[0].Quota)

	zones, code, _ := r.QueryZones("search", "web")
	require.Equal(t, errcode.Success, code)
	require.Len(t, zones, 1)
	assert.Equal(t, int64(1), zones[0].ID)
	assert.Equal(t, int64(1), zones[0].AppID)

	servlets, code, _ := r.QueryServlets("search", "web", "query")
	require.Equal(t, errcode.Success, code)
	require.Len(t, servlets, 1)
	assert.Equal(t, int64(1), servlets[0].ID)
}

func TestCreateAppDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)

	res := apply(t, r, &rpc.ManagerRequest{
		Op:  rpc.OpCreateApp,
		App: &types.App{Name: "search"},
	})
	assert.Equal(t, errcode.InputParamError, res.Code)
}

func TestIDMonotonicAcrossDrop(t *testing.T) {
	r := newTestRegistry(t)

	res := apply(t, r, &rpc.ManagerRequest{Op: rpc.OpCreateApp, App: &types.App{Name: "a"}})
	require.Equal(t, errcode.Success, res.Code)
	res = apply(t, r, &rpc.ManagerRequest{Op: rpc.OpDropApp, App: &types.App{Name: "a"}})
	require.Equal(t, errcode.Success, res.Code)
	res = apply(t, r, &rpc.ManagerRequest{Op: rpc.OpCreateApp, App: &types.App{Name: "b"}})
	require.Equal(t, errcode.Success, res.Code)

	apps, _, _ := r.QueryApps("b")
	require.Len(t, apps, 1)
	// id 1 was burned by "a"; "b" must not reuse it
	assert.Equal(t, int64(2), apps[0].ID)
}

func TestDropNonEmptyParentsRefused(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)
	res := apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpAddInstance,
		Instance: &types.Instance{
			Address: "10.0.0.1:80", AppName: "search", ZoneName: "web",
			ServletName: "query", Env: "prod", Color: "blue",
			MTime: time.Now().Unix(),
		},
	})
	require.Equal(t, errcode.Success, res.Code)

	tests := []struct {
		name string
		req  *rpc.ManagerRequest
	}{
		{"app with zones", &rpc.ManagerRequest{Op: rpc.OpDropApp, App: &types.App{Name: "search"}}},
		{"zone with servlets", &rpc.ManagerRequest{Op: rpc.OpDropZone, Zone: &types.Zone{AppName: "search", Name: "web"}}},
		{"servlet with instances", &rpc.ManagerRequest{Op: rpc.OpDropServlet, Servlet: &types.Servlet{AppName: "search", ZoneName: "web", Name: "query"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := apply(t, r, tt.req)
			assert.Equal(t, errcode.InputParamError, res.Code)
		})
	}

	// state unchanged
	apps, code, _ := r.QueryApps("search")
	require.Equal(t, errcode.Success, code)
	assert.Len(t, apps, 1)
}

func TestModifyQuotaBumpsVersion(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)

	res := apply(t, r, &rpc.ManagerRequest{
		Op:  rpc.OpModifyApp,
		App: &types.App{Name: "search", Quota: 500},
	})
	require.Equal(t, errcode.Success, res.Code)

	apps, _, _ := r.QueryApps("search")
	require.Len(t, apps, 1)
	assert.Equal(t, int64(500), apps[0].Quota)
	assert.Equal(t, int64(2), apps[0].Version)
}

func TestReRegistrationIsUpsert(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)

	first := &rpc.ManagerRequest{
		Op: rpc.OpAddInstance,
		Instance: &types.Instance{
			Address: "10.0.0.1:80", AppName: "search", ZoneName: "web",
			ServletName: "query", Env: "prod", Color: "blue", MTime: 1000,
		},
	}
	res := apply(t, r, first)
	require.Equal(t, errcode.Success, res.Code)

	second := &rpc.ManagerRequest{
		Op: rpc.OpAddInstance,
		Instance: &types.Instance{
			Address: "10.0.0.1:80", AppName: "search", ZoneName: "web",
			ServletName: "query", Env: "prod", Color: "green", MTime: 2000,
		},
	}
	res = apply(t, r, second)
	require.Equal(t, errcode.Success, res.Code)

	instances, code, _ := r.QueryInstance("10.0.0.1:80")
	require.Equal(t, errcode.Success, code)
	require.Len(t, instances, 1)
	assert.Equal(t, "green", instances[0].Color)
	assert.Equal(t, int64(2000), instances[0].MTime)
	assert.Equal(t, int64(2), instances[0].Version)
}

func TestAddInstanceRejectsForeignServlet(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)

	res := apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpAddInstance,
		Instance: &types.Instance{
			Address: "10.0.0.1:80", AppName: "search", ZoneName: "web",
			ServletName: "nosuch",
		},
	})
	assert.Equal(t, errcode.InputParamError, res.Code)
}

func TestDropInstance(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)
	apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpAddInstance,
		Instance: &types.Instance{
			Address: "10.0.0.1:80", AppName: "search", ZoneName: "web",
			ServletName: "query", MTime: time.Now().Unix(),
		},
	})

	res := apply(t, r, &rpc.ManagerRequest{
		Op:       rpc.OpDropInstance,
		Instance: &types.Instance{Address: "10.0.0.1:80"},
	})
	require.Equal(t, errcode.Success, res.Code)

	_, code, _ := r.QueryInstance("10.0.0.1:80")
	assert.Equal(t, errcode.InputParamError, code)

	// servlet is empty again, so the drop cascade is allowed
	res = apply(t, r, &rpc.ManagerRequest{
		Op:      rpc.OpDropServlet,
		Servlet: &types.Servlet{AppName: "search", ZoneName: "web", Name: "query"},
	})
	assert.Equal(t, errcode.Success, res.Code)
}

func TestUpdateInstanceStatusOnly(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)
	apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpAddInstance,
		Instance: &types.Instance{
			Address: "10.0.0.1:80", AppName: "search", ZoneName: "web",
			ServletName: "query", Env: "prod", Color: "blue", MTime: 100,
		},
	})

	res := apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpUpdateInstance,
		Instance: &types.Instance{
			Address: "10.0.0.1:80", Status: types.InstanceStatusSlow, MTime: 200,
		},
	})
	require.Equal(t, errcode.Success, res.Code)

	instances, _, _ := r.QueryInstance("10.0.0.1:80")
	require.Len(t, instances, 1)
	assert.Equal(t, types.InstanceStatusSlow, instances[0].Status)
	assert.Equal(t, "prod", instances[0].Env, "untouched fields survive")
	assert.Equal(t, "blue", instances[0].Color)
	assert.Equal(t, int64(200), instances[0].MTime)
}

func TestUndecodableEntryConsumed(t *testing.T) {
	r := newTestRegistry(t)
	res, isResult := r.Apply(&raft.Log{Data: []byte("{not json")}).(*Result)
	require.True(t, isResult)
	assert.Equal(t, errcode.ParseToPbFail, res.Code)
}

func TestUnknownOpConsumed(t *testing.T) {
	r := newTestRegistry(t)
	res := apply(t, r, &rpc.ManagerRequest{Op: "frobnicate"})
	assert.Equal(t, errcode.InputParamError, res.Code)
}

func TestUserLifecycle(t *testing.T) {
	r := newTestRegistry(t)

	res := apply(t, r, &rpc.ManagerRequest{
		Op:   rpc.OpCreateUser,
		User: &rpc.UserOp{Username: "ops", Password: "hunter2", AllowedIPs: []string{"10.1.0.0"}},
	})
	require.Equal(t, errcode.Success, res.Code)

	// password is never readable back
	users, code, _ := r.QueryUsers("ops")
	require.Equal(t, errcode.Success, code)
	require.Len(t, users, 1)
	assert.NotContains(t, users[0].PasswordFingerprint, "hunter2")
	assert.Len(t, users[0].PasswordFingerprint, 8)

	res = apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpAddPrivilege,
		User: &rpc.UserOp{
			Username:       "ops",
			ZonePrivileges: []types.ZonePrivilege{{AppName: "search", ZoneName: "web", RW: types.PrivilegeWrite}},
		},
	})
	require.Equal(t, errcode.Success, res.Code)

	users, _, _ = r.QueryUsers("ops")
	require.Len(t, users[0].ZonePrivileges, 1)
	assert.Equal(t, int64(2), users[0].Version)

	res = apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpDropPrivilege,
		User: &rpc.UserOp{
			Username:       "ops",
			ZonePrivileges: []types.ZonePrivilege{{AppName: "search", ZoneName: "web"}},
		},
	})
	require.Equal(t, errcode.Success, res.Code)
	users, _, _ = r.QueryUsers("ops")
	assert.Empty(t, users[0].ZonePrivileges)

	res = apply(t, r, &rpc.ManagerRequest{Op: rpc.OpDropUser, User: &rpc.UserOp{Username: "ops"}})
	require.Equal(t, errcode.Success, res.Code)
	_, code, _ = r.QueryUsers("ops")
	assert.Equal(t, errcode.InputParamError, code)
}

func TestPasswordChangeReplacesHash(t *testing.T) {
	r := newTestRegistry(t)
	apply(t, r, &rpc.ManagerRequest{
		Op:   rpc.OpCreateUser,
		User: &rpc.UserOp{Username: "ops", Password: "old"},
	})
	users, _, _ := r.QueryUsers("ops")
	before := users[0].PasswordFingerprint

	res := apply(t, r, &rpc.ManagerRequest{
		Op:   rpc.OpAddPrivilege,
		User: &rpc.UserOp{Username: "ops", Password: "new"},
	})
	require.Equal(t, errcode.Success, res.Code)

	users, _, _ = r.QueryUsers("ops")
	assert.NotEqual(t, before, users[0].PasswordFingerprint)
}
