package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/types"
)

func registerAt(t *testing.T, r *Registry, addr, env, color string, mtime int64) {
	t.Helper()
	res := apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpAddInstance,
		Instance: &types.Instance{
			Address: addr, AppName: "search", ZoneName: "web",
			ServletName: "query", Env: env, Color: color, MTime: mtime,
		},
	})
	require.Equal(t, errcode.Success, res.Code)
}

func TestNamingLivenessWindow(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)

	registeredAt := time.Unix(1_700_000_000, 0)
	registerAt(t, r, "10.0.0.1:80", "prod", "blue", registeredAt.Unix())

	req := &rpc.NamingRequest{
		AppName: "search",
		Zones:   []string{"web"},
		Envs:    []string{"prod"},
		Colors:  []string{"blue"},
	}

	// 10s after registration: inside the 50s window
	resp := r.namingAt(req, registeredAt.Add(10*time.Second))
	require.Equal(t, errcode.Success, resp.ErrCode)
	require.Len(t, resp.Instances, 1)
	assert.Equal(t, "10.0.0.1:80", resp.Instances[0].Address)

	// 60s after registration: stale, invisible but still registered
	resp = r.namingAt(req, registeredAt.Add(60*time.Second))
	require.Equal(t, errcode.Success, resp.ErrCode)
	assert.Empty(t, resp.Instances)

	instances, code, _ := r.QueryInstance("10.0.0.1:80")
	require.Equal(t, errcode.Success, code)
	assert.Len(t, instances, 1, "stale instance still occupies its key")
}

func TestNamingFilters(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)
	now := time.Unix(1_700_000_000, 0)
	registerAt(t, r, "10.0.0.1:80", "prod", "blue", now.Unix())
	registerAt(t, r, "10.0.0.2:80", "prod", "green", now.Unix())
	registerAt(t, r, "10.0.0.3:80", "canary", "blue", now.Unix())

	tests := []struct {
		name   string
		envs   []string
		colors []string
		want   []string
	}{
		{"env and color match", []string{"prod"}, []string{"blue"}, []string{"10.0.0.1:80"}},
		{"both colors", []string{"prod"}, []string{"blue", "green"}, []string{"10.0.0.1:80", "10.0.0.2:80"}},
		{"canary only", []string{"canary"}, []string{"blue"}, []string{"10.0.0.3:80"}},
		{"no env overlap", []string{"staging"}, []string{"blue"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.namingAt(&rpc.NamingRequest{
				AppName: "search",
				Zones:   []string{"web"},
				Envs:    tt.envs,
				Colors:  tt.colors,
			}, now)
			require.Equal(t, errcode.Success, resp.ErrCode)
			var got []string
			for _, in := range resp.Instances {
				got = append(got, in.Address)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// Empty filter lists are literal set membership, matching the reference
// behavior: they match nothing.
func TestNamingEmptyFilters(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)
	now := time.Unix(1_700_000_000, 0)
	registerAt(t, r, "10.0.0.1:80", "prod", "blue", now.Unix())

	t.Run("empty zones fails", func(t *testing.T) {
		resp := r.namingAt(&rpc.NamingRequest{
			AppName: "search",
			Envs:    []string{"prod"},
			Colors:  []string{"blue"},
		}, now)
		assert.Equal(t, errcode.InputParamError, resp.ErrCode)
	})

	t.Run("empty envs matches nothing", func(t *testing.T) {
		resp := r.namingAt(&rpc.NamingRequest{
			AppName: "search",
			Zones:   []string{"web"},
			Colors:  []string{"blue"},
		}, now)
		require.Equal(t, errcode.Success, resp.ErrCode)
		assert.Empty(t, resp.Instances)
	})

	t.Run("empty colors matches nothing", func(t *testing.T) {
		resp := r.namingAt(&rpc.NamingRequest{
			AppName: "search",
			Zones:   []string{"web"},
			Envs:    []string{"prod"},
		}, now)
		require.Equal(t, errcode.Success, resp.ErrCode)
		assert.Empty(t, resp.Instances)
	})
}

func TestNamingUnknownApp(t *testing.T) {
	r := newTestRegistry(t)
	resp := r.Naming(&rpc.NamingRequest{AppName: "nosuch"})
	assert.Equal(t, errcode.InputParamError, resp.ErrCode)
}

func TestNamingSkipsNonNormalInstances(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)
	now := time.Unix(1_700_000_000, 0)
	registerAt(t, r, "10.0.0.1:80", "prod", "blue", now.Unix())

	res := apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpUpdateInstance,
		Instance: &types.Instance{
			Address: "10.0.0.1:80", Status: types.InstanceStatusFaulty, MTime: now.Unix(),
		},
	})
	require.Equal(t, errcode.Success, res.Code)

	resp := r.namingAt(&rpc.NamingRequest{
		AppName: "search", Zones: []string{"web"},
		Envs: []string{"prod"}, Colors: []string{"blue"},
	}, now)
	require.Equal(t, errcode.Success, resp.ErrCode)
	assert.Empty(t, resp.Instances)
}

func TestNamingDeterministicOrder(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)
	now := time.Unix(1_700_000_000, 0)
	registerAt(t, r, "10.0.0.9:80", "prod", "blue", now.Unix())
	registerAt(t, r, "10.0.0.1:80", "prod", "blue", now.Unix())
	registerAt(t, r, "10.0.0.5:80", "prod", "blue", now.Unix())

	resp := r.namingAt(&rpc.NamingRequest{
		AppName: "search", Zones: []string{"web"},
		Envs: []string{"prod"}, Colors: []string{"blue"},
	}, now)
	require.Len(t, resp.Instances, 3)
	assert.Equal(t, "10.0.0.1:80", resp.Instances[0].Address)
	assert.Equal(t, "10.0.0.5:80", resp.Instances[1].Address)
	assert.Equal(t, "10.0.0.9:80", resp.Instances[2].Address)
}

func TestStaleInstances(t *testing.T) {
	r := newTestRegistry(t)
	createHierarchy(t, r)
	now := time.Unix(1_700_000_000, 0)
	registerAt(t, r, "10.0.0.1:80", "prod", "blue", now.Unix())
	registerAt(t, r, "10.0.0.2:80", "prod", "blue", now.Add(-10*time.Minute).Unix())

	stale := r.StaleInstances(5*time.Minute, now)
	assert.Equal(t, []string{"10.0.0.2:80"}, stale)
}
