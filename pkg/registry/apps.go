package registry

import (
	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
)

func (r *Registry) createApp(req *rpc.ManagerRequest) *Result {
	if req.App == nil || req.App.Name == "" {
		return fail(errcode.InputParamError, "no app name")
	}
	r.apps.mu.Lock()
	defer r.apps.mu.Unlock()

	name := req.App.Name
	if _, exists := r.apps.nameToID[name]; exists {
		r.logger.Warn().Str("app", name).Msg("app already exists")
		return fail(errcode.InputParamError, "app already existed")
	}

	app := *req.App
	app.ID = r.apps.maxID + 1
	app.Version = 1

	value, res := marshalEntity(&app)
	if res != nil {
		return res
	}
	writes := []storage.KV{
		{Key: storage.AppKey(app.ID), Value: value},
		{Key: storage.MaxAppIDKey(), Value: storage.EncodeInt64(app.ID)},
	}
	if res := r.commit(writes, nil); res != nil {
		return res
	}

	r.apps.nameToID[name] = app.ID
	r.apps.byID[app.ID] = &app
	r.apps.maxID = app.ID
	r.publish(events.KindSchemaChanged, name)
	r.logger.Info().Str("app", name).Int64("id", app.ID).Msg("create app success")
	return ok()
}

func (r *Registry) dropApp(req *rpc.ManagerRequest) *Result {
	if req.App == nil || req.App.Name == "" {
		return fail(errcode.InputParamError, "no app name")
	}
	r.apps.mu.Lock()
	defer r.apps.mu.Unlock()

	name := req.App.Name
	id, exists := r.apps.nameToID[name]
	if !exists {
		return fail(errcode.InputParamError, "app not exist")
	}
	if len(r.apps.zoneIDs[id]) > 0 {
		r.logger.Warn().Str("app", name).Msg("drop refused, app has zones")
		return fail(errcode.InputParamError, "app has zone")
	}

	if res := r.commit(nil, [][]byte{storage.AppKey(id)}); res != nil {
		return res
	}

	delete(r.apps.nameToID, name)
	delete(r.apps.byID, id)
	delete(r.apps.zoneIDs, id)
	r.publish(events.KindSchemaChanged, name)
	r.logger.Info().Str("app", name).Msg("drop app success")
	return ok()
}

func (r *Registry) modifyApp(req *rpc.ManagerRequest) *Result {
	if req.App == nil || req.App.Name == "" {
		return fail(errcode.InputParamError, "no app name")
	}
	r.apps.mu.Lock()
	defer r.apps.mu.Unlock()

	name := req.App.Name
	id, exists := r.apps.nameToID[name]
	if !exists {
		return fail(errcode.InputParamError, "app not exist")
	}

	updated := *r.apps.byID[id]
	if req.App.Quota != 0 {
		updated.Quota = req.App.Quota
	}
	updated.Version++

	value, res := marshalEntity(&updated)
	if res != nil {
		return res
	}
	if res := r.commit([]storage.KV{{Key: storage.AppKey(id), Value: value}}, nil); res != nil {
		return res
	}

	r.apps.byID[id] = &updated
	r.publish(events.KindSchemaChanged, name)
	r.logger.Info().Str("app", name).Int64("version", updated.Version).Msg("modify app success")
	return ok()
}
