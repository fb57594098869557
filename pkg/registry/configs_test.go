package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/types"
)

func createConfig(t *testing.T, r *Registry, name, version, content string) *Result {
	t.Helper()
	return apply(t, r, &rpc.ManagerRequest{
		Op: rpc.OpCreateConfig,
		Config: &types.Config{
			Name: name, Version: version,
			Content: []byte(content), Type: types.ConfigTypeText,
		},
	})
}

func TestConfigVersioning(t *testing.T) {
	r := newTestRegistry(t)

	require.Equal(t, errcode.Success, createConfig(t, r, "x", "1.0.0", "a").Code)
	assert.Equal(t, errcode.ConfigExists, createConfig(t, r, "x", "1.0.0", "b").Code)
	require.Equal(t, errcode.Success, createConfig(t, r, "x", "1.0.1", "b").Code)

	// get without version returns the greatest semver
	cfg, code, _ := r.GetConfig("x", "")
	require.Equal(t, errcode.Success, code)
	assert.Equal(t, "1.0.1", cfg.Version)
	assert.Equal(t, []byte("b"), cfg.Content)

	// explicit version still reachable
	cfg, code, _ = r.GetConfig("x", "1.0.0")
	require.Equal(t, errcode.Success, code)
	assert.Equal(t, []byte("a"), cfg.Content)
}

func TestConfigSemverOrderBeatsLexicographic(t *testing.T) {
	r := newTestRegistry(t)
	require.Equal(t, errcode.Success, createConfig(t, r, "x", "1.9.0", "old").Code)
	require.Equal(t, errcode.Success, createConfig(t, r, "x", "1.10.0", "new").Code)

	cfg, code, _ := r.GetConfig("x", "")
	require.Equal(t, errcode.Success, code)
	assert.Equal(t, "1.10.0", cfg.Version)

	versions, code, _ := r.ConfigVersions("x")
	require.Equal(t, errcode.Success, code)
	assert.Equal(t, []string{"1.9.0", "1.10.0"}, versions)
}

func TestConfigBadVersionRejected(t *testing.T) {
	r := newTestRegistry(t)
	res := createConfig(t, r, "x", "not-a-version", "a")
	assert.Equal(t, errcode.InputParamError, res.Code)
}

func TestConfigRemoveVersion(t *testing.T) {
	r := newTestRegistry(t)
	createConfig(t, r, "x", "1.0.0", "a")
	createConfig(t, r, "x", "1.0.1", "b")

	res := apply(t, r, &rpc.ManagerRequest{
		Op:     rpc.OpRemoveConfig,
		Config: &types.Config{Name: "x", Version: "1.0.1"},
	})
	require.Equal(t, errcode.Success, res.Code)

	cfg, code, _ := r.GetConfig("x", "")
	require.Equal(t, errcode.Success, code)
	assert.Equal(t, "1.0.0", cfg.Version)

	res = apply(t, r, &rpc.ManagerRequest{
		Op:     rpc.OpRemoveConfig,
		Config: &types.Config{Name: "x", Version: "9.9.9"},
	})
	assert.Equal(t, errcode.ConfigNotExistsVersion, res.Code)
}

func TestConfigRemoveAll(t *testing.T) {
	r := newTestRegistry(t)
	createConfig(t, r, "x", "1.0.0", "a")
	createConfig(t, r, "x", "1.0.1", "b")

	res := apply(t, r, &rpc.ManagerRequest{
		Op:                rpc.OpRemoveConfig,
		Config:            &types.Config{Name: "x"},
		RemoveAllVersions: true,
	})
	require.Equal(t, errcode.Success, res.Code)

	_, code, _ := r.GetConfig("x", "")
	assert.Equal(t, errcode.ConfigNotExists, code)

	res = apply(t, r, &rpc.ManagerRequest{
		Op:     rpc.OpRemoveConfig,
		Config: &types.Config{Name: "x", Version: "1.0.0"},
	})
	assert.Equal(t, errcode.ConfigNotExists, res.Code)
}

func TestConfigNamesSorted(t *testing.T) {
	r := newTestRegistry(t)
	createConfig(t, r, "zeta", "1.0.0", "z")
	createConfig(t, r, "alpha", "1.0.0", "a")

	assert.Equal(t, []string{"alpha", "zeta"}, r.ConfigNames())
}
