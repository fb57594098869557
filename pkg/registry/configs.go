package registry

import (
	"github.com/blang/semver/v4"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

func (r *Registry) createConfig(req *rpc.ManagerRequest) *Result {
	c := req.Config
	if c == nil || c.Name == "" || c.Version == "" {
		return fail(errcode.InputParamError, "no config name or version")
	}
	if _, err := semver.Parse(c.Version); err != nil {
		return fail(errcode.InputParamError, "config version is not semver: "+c.Version)
	}

	r.configs.mu.Lock()
	defer r.configs.mu.Unlock()

	if versions := r.configs.byName[c.Name]; versions != nil {
		if _, exists := versions[c.Version]; exists {
			r.logger.Warn().Str("config", c.Name).Str("version", c.Version).Msg("config version exists")
			return fail(errcode.ConfigExists, "config already existed")
		}
	}

	cfg := *c
	cfg.ID = r.configs.maxID + 1

	value, res := marshalEntity(&cfg)
	if res != nil {
		return res
	}
	writes := []storage.KV{
		{Key: storage.ConfigKey(cfg.ID), Value: value},
		{Key: storage.MaxConfigIDKey(), Value: storage.EncodeInt64(cfg.ID)},
	}
	if res := r.commit(writes, nil); res != nil {
		return res
	}

	if r.configs.byName[cfg.Name] == nil {
		r.configs.byName[cfg.Name] = make(map[string]*types.Config)
	}
	r.configs.byName[cfg.Name][cfg.Version] = &cfg
	r.configs.maxID = cfg.ID
	r.publish(events.KindConfigCreated, cfg.Name+"/"+cfg.Version)
	r.logger.Info().Str("config", cfg.Name).Str("version", cfg.Version).Int64("id", cfg.ID).Msg("create config success")
	return ok()
}

// removeConfig drops one version or, with RemoveAllVersions, every
// version of the name in one atomic batch.
func (r *Registry) removeConfig(req *rpc.ManagerRequest) *Result {
	c := req.Config
	if c == nil || c.Name == "" {
		return fail(errcode.InputParamError, "no config name")
	}

	r.configs.mu.Lock()
	defer r.configs.mu.Unlock()

	versions := r.configs.byName[c.Name]
	if len(versions) == 0 {
		return fail(errcode.ConfigNotExists, "config not exist")
	}

	if req.RemoveAllVersions {
		var deletes [][]byte
		for _, cfg := range versions {
			deletes = append(deletes, storage.ConfigKey(cfg.ID))
		}
		if res := r.commit(nil, deletes); res != nil {
			return res
		}
		delete(r.configs.byName, c.Name)
		r.publish(events.KindConfigRemoved, c.Name)
		r.logger.Info().Str("config", c.Name).Int("versions", len(deletes)).Msg("remove config success")
		return ok()
	}

	if c.Version == "" {
		return fail(errcode.InputParamError, "no config version")
	}
	cfg, exists := versions[c.Version]
	if !exists {
		return fail(errcode.ConfigNotExistsVersion, "config version not exist")
	}
	if res := r.commit(nil, [][]byte{storage.ConfigKey(cfg.ID)}); res != nil {
		return res
	}
	delete(versions, c.Version)
	if len(versions) == 0 {
		delete(r.configs.byName, c.Name)
	}
	r.publish(events.KindConfigRemoved, c.Name+"/"+c.Version)
	r.logger.Info().Str("config", c.Name).Str("version", c.Version).Msg("remove config version success")
	return ok()
}
