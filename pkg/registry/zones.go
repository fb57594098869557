package registry

import (
	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
)

func (r *Registry) createZone(req *rpc.ManagerRequest) *Result {
	if req.Zone == nil || req.Zone.Name == "" || req.Zone.AppName == "" {
		return fail(errcode.InputParamError, "no zone or app name")
	}

	r.apps.mu.Lock()
	defer r.apps.mu.Unlock()
	r.zones.mu.Lock()
	defer r.zones.mu.Unlock()

	appID, exists := r.apps.nameToID[req.Zone.AppName]
	if !exists {
		return fail(errcode.InputParamError, "app not exist")
	}
	key := zoneKeyOf(req.Zone.AppName, req.Zone.Name)
	if _, exists := r.zones.nameToID[key]; exists {
		r.logger.Warn().Str("zone", key).Msg("zone already exists")
		return fail(errcode.InputParamError, "zone already existed")
	}

	zone := *req.Zone
	zone.AppID = appID
	zone.ID = r.zones.maxID + 1
	zone.Version = 1

	value, res := marshalEntity(&zone)
	if res != nil {
		return res
	}
	writes := []storage.KV{
		{Key: storage.ZoneKey(zone.ID), Value: value},
		{Key: storage.MaxZoneIDKey(), Value: storage.EncodeInt64(zone.ID)},
	}
	if res := r.commit(writes, nil); res != nil {
		return res
	}

	r.zones.nameToID[key] = zone.ID
	r.zones.byID[zone.ID] = &zone
	r.zones.maxID = zone.ID
	if r.apps.zoneIDs[appID] == nil {
		r.apps.zoneIDs[appID] = make(map[int64]struct{})
	}
	r.apps.zoneIDs[appID][zone.ID] = struct{}{}
	r.publish(events.KindSchemaChanged, key)
	r.logger.Info().Str("zone", key).Int64("id", zone.ID).Msg("create zone success")
	return ok()
}

func (r *Registry) dropZone(req *rpc.ManagerRequest) *Result {
	if req.Zone == nil || req.Zone.Name == "" || req.Zone.AppName == "" {
		return fail(errcode.InputParamError, "no zone or app name")
	}

	r.apps.mu.Lock()
	defer r.apps.mu.Unlock()
	r.zones.mu.Lock()
	defer r.zones.mu.Unlock()

	key := zoneKeyOf(req.Zone.AppName, req.Zone.Name)
	id, exists := r.zones.nameToID[key]
	if !exists {
		return fail(errcode.InputParamError, "zone not exist")
	}
	if len(r.zones.servletIDs[id]) > 0 {
		r.logger.Warn().Str("zone", key).Msg("drop refused, zone has servlets")
		return fail(errcode.InputParamError, "zone has servlet")
	}

	if res := r.commit(nil, [][]byte{storage.ZoneKey(id)}); res != nil {
		return res
	}

	appID := r.zones.byID[id].AppID
	delete(r.zones.nameToID, key)
	delete(r.zones.byID, id)
	delete(r.zones.servletIDs, id)
	if set := r.apps.zoneIDs[appID]; set != nil {
		delete(set, id)
	}
	r.publish(events.KindSchemaChanged, key)
	r.logger.Info().Str("zone", key).Msg("drop zone success")
	return ok()
}

func (r *Registry) modifyZone(req *rpc.ManagerRequest) *Result {
	if req.Zone == nil || req.Zone.Name == "" || req.Zone.AppName == "" {
		return fail(errcode.InputParamError, "no zone or app name")
	}

	r.zones.mu.Lock()
	defer r.zones.mu.Unlock()

	key := zoneKeyOf(req.Zone.AppName, req.Zone.Name)
	id, exists := r.zones.nameToID[key]
	if !exists {
		return fail(errcode.InputParamError, "zone not exist")
	}

	updated := *r.zones.byID[id]
	if req.Zone.Quota != 0 {
		updated.Quota = req.Zone.Quota
	}
	updated.Version++

	value, res := marshalEntity(&updated)
	if res != nil {
		return res
	}
	if res := r.commit([]storage.KV{{Key: storage.ZoneKey(id), Value: value}}, nil); res != nil {
		return res
	}

	r.zones.byID[id] = &updated
	r.publish(events.KindSchemaChanged, key)
	r.logger.Info().Str("zone", key).Int64("version", updated.Version).Msg("modify zone success")
	return ok()
}
