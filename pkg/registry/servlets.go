package registry

import (
	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
)

func (r *Registry) createServlet(req *rpc.ManagerRequest) *Result {
	s := req.Servlet
	if s == nil || s.Name == "" || s.ZoneName == "" || s.AppName == "" {
		return fail(errcode.InputParamError, "no servlet, zone or app name")
	}

	r.apps.mu.Lock()
	defer r.apps.mu.Unlock()
	r.zones.mu.Lock()
	defer r.zones.mu.Unlock()
	r.servlets.mu.Lock()
	defer r.servlets.mu.Unlock()

	appID, exists := r.apps.nameToID[s.AppName]
	if !exists {
		return fail(errcode.InputParamError, "app not exist")
	}
	zoneID, exists := r.zones.nameToID[zoneKeyOf(s.AppName, s.ZoneName)]
	if !exists {
		return fail(errcode.InputParamError, "zone not exist")
	}
	key := servletKeyOf(s.AppName, s.ZoneName, s.Name)
	if _, exists := r.servlets.nameToID[key]; exists {
		r.logger.Warn().Str("servlet", key).Msg("servlet already exists")
		return fail(errcode.InputParamError, "servlet already existed")
	}

	servlet := *s
	servlet.AppID = appID
	servlet.ZoneID = zoneID
	servlet.ID = r.servlets.maxID + 1
	servlet.Version = 1

	value, res := marshalEntity(&servlet)
	if res != nil {
		return res
	}
	writes := []storage.KV{
		{Key: storage.ServletKey(servlet.ID), Value: value},
		{Key: storage.MaxServletIDKey(), Value: storage.EncodeInt64(servlet.ID)},
	}
	if res := r.commit(writes, nil); res != nil {
		return res
	}

	r.servlets.nameToID[key] = servlet.ID
	r.servlets.byID[servlet.ID] = &servlet
	r.servlets.maxID = servlet.ID
	if r.zones.servletIDs[zoneID] == nil {
		r.zones.servletIDs[zoneID] = make(map[int64]struct{})
	}
	r.zones.servletIDs[zoneID][servlet.ID] = struct{}{}
	r.publish(events.KindSchemaChanged, key)
	r.logger.Info().Str("servlet", key).Int64("id", servlet.ID).Msg("create servlet success")
	return ok()
}

func (r *Registry) dropServlet(req *rpc.ManagerRequest) *Result {
	s := req.Servlet
	if s == nil || s.Name == "" || s.ZoneName == "" || s.AppName == "" {
		return fail(errcode.InputParamError, "no servlet, zone or app name")
	}

	r.zones.mu.Lock()
	defer r.zones.mu.Unlock()
	r.servlets.mu.Lock()
	defer r.servlets.mu.Unlock()
	r.instances.mu.RLock()
	children := len(r.instances.bySvlt[servletKeyOf(s.AppName, s.ZoneName, s.Name)])
	r.instances.mu.RUnlock()

	key := servletKeyOf(s.AppName, s.ZoneName, s.Name)
	id, exists := r.servlets.nameToID[key]
	if !exists {
		return fail(errcode.InputParamError, "servlet not exist")
	}
	if children > 0 {
		r.logger.Warn().Str("servlet", key).Msg("drop refused, servlet has instances")
		return fail(errcode.InputParamError, "servlet has instance")
	}

	if res := r.commit(nil, [][]byte{storage.ServletKey(id)}); res != nil {
		return res
	}

	zoneID := r.servlets.byID[id].ZoneID
	delete(r.servlets.nameToID, key)
	delete(r.servlets.byID, id)
	if set := r.zones.servletIDs[zoneID]; set != nil {
		delete(set, id)
	}
	r.publish(events.KindSchemaChanged, key)
	r.logger.Info().Str("servlet", key).Msg("drop servlet success")
	return ok()
}

func (r *Registry) modifyServlet(req *rpc.ManagerRequest) *Result {
	s := req.Servlet
	if s == nil || s.Name == "" || s.ZoneName == "" || s.AppName == "" {
		return fail(errcode.InputParamError, "no servlet, zone or app name")
	}

	r.servlets.mu.Lock()
	defer r.servlets.mu.Unlock()

	key := servletKeyOf(s.AppName, s.ZoneName, s.Name)
	id, exists := r.servlets.nameToID[key]
	if !exists {
		return fail(errcode.InputParamError, "servlet not exist")
	}

	updated := *r.servlets.byID[id]
	updated.Version++

	value, res := marshalEntity(&updated)
	if res != nil {
		return res
	}
	if res := r.commit([]storage.KV{{Key: storage.ServletKey(id), Value: value}}, nil); res != nil {
		return res
	}

	r.servlets.byID[id] = &updated
	r.publish(events.KindSchemaChanged, key)
	r.logger.Info().Str("servlet", key).Int64("version", updated.Version).Msg("modify servlet success")
	return ok()
}
