package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/hashicorp/raft"

	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// registrySnapshot is the deterministic point-in-time image of the
// registry. Slices are sorted (ids ascending, addresses and names
// lexicographic) so save→load→save produces identical bytes.
type registrySnapshot struct {
	MaxAppID      int64 `json:"max_app_id"`
	MaxZoneID     int64 `json:"max_zone_id"`
	MaxServletID  int64 `json:"max_servlet_id"`
	MaxInstanceID int64 `json:"max_instance_id"`
	MaxConfigID   int64 `json:"max_config_id"`

	Apps      []types.App           `json:"apps"`
	Zones     []types.Zone          `json:"zones"`
	Servlets  []types.Servlet       `json:"servlets"`
	Instances []types.Instance      `json:"instances"`
	Users     []types.UserPrivilege `json:"users"`
	Configs   []types.Config        `json:"configs"`
}

// Snapshot captures the current state under the read locks. Called on
// the raft snapshot path; Persist runs later in the background.
func (r *Registry) Snapshot() (raft.FSMSnapshot, error) {
	snap := &registrySnapshot{}

	r.apps.mu.RLock()
	snap.MaxAppID = r.apps.maxID
	for _, a := range r.apps.byID {
		snap.Apps = append(snap.Apps, *a)
	}
	r.apps.mu.RUnlock()

	r.zones.mu.RLock()
	snap.MaxZoneID = r.zones.maxID
	for _, z := range r.zones.byID {
		snap.Zones = append(snap.Zones, *z)
	}
	r.zones.mu.RUnlock()

	r.servlets.mu.RLock()
	snap.MaxServletID = r.servlets.maxID
	for _, s := range r.servlets.byID {
		snap.Servlets = append(snap.Servlets, *s)
	}
	r.servlets.mu.RUnlock()

	r.instances.mu.RLock()
	snap.MaxInstanceID = r.instances.maxID
	for _, in := range r.instances.byAddr {
		snap.Instances = append(snap.Instances, *in)
	}
	r.instances.mu.RUnlock()

	r.users.mu.RLock()
	for _, u := range r.users.byName {
		snap.Users = append(snap.Users, *cloneUser(u))
	}
	r.users.mu.RUnlock()

	r.configs.mu.RLock()
	snap.MaxConfigID = r.configs.maxID
	for _, versions := range r.configs.byName {
		for _, c := range versions {
			snap.Configs = append(snap.Configs, *c)
		}
	}
	r.configs.mu.RUnlock()

	sort.Slice(snap.Apps, func(i, j int) bool { return snap.Apps[i].ID < snap.Apps[j].ID })
	sort.Slice(snap.Zones, func(i, j int) bool { return snap.Zones[i].ID < snap.Zones[j].ID })
	sort.Slice(snap.Servlets, func(i, j int) bool { return snap.Servlets[i].ID < snap.Servlets[j].ID })
	sort.Slice(snap.Instances, func(i, j int) bool { return snap.Instances[i].Address < snap.Instances[j].Address })
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].Username < snap.Users[j].Username })
	sort.Slice(snap.Configs, func(i, j int) bool { return snap.Configs[i].ID < snap.Configs[j].ID })

	return snap, nil
}

// Restore replaces the registry with the snapshot: indexes and the KV
// materialization both.
func (r *Registry) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap registrySnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode registry snapshot: %w", err)
	}

	r.apps.mu.Lock()
	defer r.apps.mu.Unlock()
	r.zones.mu.Lock()
	defer r.zones.mu.Unlock()
	r.servlets.mu.Lock()
	defer r.servlets.mu.Unlock()
	r.instances.mu.Lock()
	defer r.instances.mu.Unlock()
	r.users.mu.Lock()
	defer r.users.mu.Unlock()
	r.configs.mu.Lock()
	defer r.configs.mu.Unlock()

	for _, prefix := range [][]byte{
		storage.SchemaPrefix(),
		storage.PrivilegePrefix(),
		storage.DiscoveryPrefix(),
		storage.ConfigRegionPrefix(),
	} {
		if err := r.store.DeletePrefix(prefix); err != nil {
			return fmt.Errorf("failed to clear kv region: %w", err)
		}
	}

	r.resetIndexesLocked()

	var writes []storage.KV
	put := func(key []byte, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writes = append(writes, storage.KV{Key: key, Value: data})
		return nil
	}

	for i := range snap.Apps {
		app := snap.Apps[i]
		if err := put(storage.AppKey(app.ID), &app); err != nil {
			return err
		}
		r.apps.nameToID[app.Name] = app.ID
		r.apps.byID[app.ID] = &app
	}
	r.apps.maxID = snap.MaxAppID
	writes = append(writes, storage.KV{Key: storage.MaxAppIDKey(), Value: storage.EncodeInt64(snap.MaxAppID)})

	for i := range snap.Zones {
		zone := snap.Zones[i]
		if err := put(storage.ZoneKey(zone.ID), &zone); err != nil {
			return err
		}
		r.zones.nameToID[zoneKeyOf(zone.AppName, zone.Name)] = zone.ID
		r.zones.byID[zone.ID] = &zone
		if r.apps.zoneIDs[zone.AppID] == nil {
			r.apps.zoneIDs[zone.AppID] = make(map[int64]struct{})
		}
		r.apps.zoneIDs[zone.AppID][zone.ID] = struct{}{}
	}
	r.zones.maxID = snap.MaxZoneID
	writes = append(writes, storage.KV{Key: storage.MaxZoneIDKey(), Value: storage.EncodeInt64(snap.MaxZoneID)})

	for i := range snap.Servlets {
		servlet := snap.Servlets[i]
		if err := put(storage.ServletKey(servlet.ID), &servlet); err != nil {
			return err
		}
		r.servlets.nameToID[servletKeyOf(servlet.AppName, servlet.ZoneName, servlet.Name)] = servlet.ID
		r.servlets.byID[servlet.ID] = &servlet
		if r.zones.servletIDs[servlet.ZoneID] == nil {
			r.zones.servletIDs[servlet.ZoneID] = make(map[int64]struct{})
		}
		r.zones.servletIDs[servlet.ZoneID][servlet.ID] = struct{}{}
	}
	r.servlets.maxID = snap.MaxServletID
	writes = append(writes, storage.KV{Key: storage.MaxServletIDKey(), Value: storage.EncodeInt64(snap.MaxServletID)})

	for i := range snap.Instances {
		in := snap.Instances[i]
		if err := put(storage.InstanceKey(in.Address), &in); err != nil {
			return err
		}
		r.instances.byAddr[in.Address] = &in
		indexAdd(r.instances.byApp, in.AppName, in.Address)
		indexAdd(r.instances.byZone, zoneKeyOf(in.AppName, in.ZoneName), in.Address)
		indexAdd(r.instances.bySvlt, servletKeyOf(in.AppName, in.ZoneName, in.ServletName), in.Address)
	}
	r.instances.maxID = snap.MaxInstanceID
	writes = append(writes, storage.KV{Key: storage.MaxInstanceIDKey(), Value: storage.EncodeInt64(snap.MaxInstanceID)})

	for i := range snap.Users {
		user := snap.Users[i]
		if err := put(storage.PrivilegeKey(user.Username), &user); err != nil {
			return err
		}
		r.users.byName[user.Username] = &user
	}

	for i := range snap.Configs {
		cfg := snap.Configs[i]
		if err := put(storage.ConfigKey(cfg.ID), &cfg); err != nil {
			return err
		}
		if r.configs.byName[cfg.Name] == nil {
			r.configs.byName[cfg.Name] = make(map[string]*types.Config)
		}
		r.configs.byName[cfg.Name][cfg.Version] = &cfg
	}
	r.configs.maxID = snap.MaxConfigID
	writes = append(writes, storage.KV{Key: storage.MaxConfigIDKey(), Value: storage.EncodeInt64(snap.MaxConfigID)})

	if err := r.store.PutBatch(writes, nil); err != nil {
		return fmt.Errorf("failed to materialize snapshot: %w", err)
	}
	r.logger.Info().
		Int("apps", len(snap.Apps)).
		Int("instances", len(snap.Instances)).
		Int("configs", len(snap.Configs)).
		Msg("registry snapshot restored")
	return nil
}

// resetIndexesLocked assumes every index mutex is held.
func (r *Registry) resetIndexesLocked() {
	r.resetIndexes()
}

// Persist writes the snapshot to the sink as one JSON document.
func (s *registrySnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release releases the snapshot resources
func (s *registrySnapshot) Release() {}
