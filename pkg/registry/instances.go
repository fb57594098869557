package registry

import (
	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// addInstance upserts a registration heartbeat. A new address allocates
// the next instance id; an existing address keeps its identity fields and
// refreshes env/color/status and mtime. Never an error to re-register.
func (r *Registry) addInstance(req *rpc.ManagerRequest) *Result {
	in := req.Instance
	if in == nil || in.Address == "" {
		return fail(errcode.InputParamError, "no instance address")
	}
	if in.AppName == "" || in.ZoneName == "" || in.ServletName == "" {
		return fail(errcode.InputParamError, "no app, zone or servlet name")
	}

	r.servlets.mu.RLock()
	_, servletExists := r.servlets.nameToID[servletKeyOf(in.AppName, in.ZoneName, in.ServletName)]
	r.servlets.mu.RUnlock()
	if !servletExists {
		return fail(errcode.InputParamError, "servlet not exist")
	}

	r.instances.mu.Lock()
	defer r.instances.mu.Unlock()

	next := *in
	if next.Status == "" {
		next.Status = types.InstanceStatusNormal
	}

	existing, exists := r.instances.byAddr[in.Address]
	var writes []storage.KV
	newMax := r.instances.maxID
	if exists {
		if existing.AppName != in.AppName || existing.ZoneName != in.ZoneName ||
			existing.ServletName != in.ServletName {
			return fail(errcode.InputParamError, "instance registered under another servlet")
		}
		next.Version = existing.Version + 1
	} else {
		next.Version = 1
		newMax++
		writes = append(writes, storage.KV{
			Key:   storage.MaxInstanceIDKey(),
			Value: storage.EncodeInt64(newMax),
		})
	}

	value, res := marshalEntity(&next)
	if res != nil {
		return res
	}
	writes = append(writes, storage.KV{Key: storage.InstanceKey(next.Address), Value: value})
	if res := r.commit(writes, nil); res != nil {
		return res
	}

	r.instances.maxID = newMax
	r.instances.byAddr[next.Address] = &next
	indexAdd(r.instances.byApp, next.AppName, next.Address)
	indexAdd(r.instances.byZone, zoneKeyOf(next.AppName, next.ZoneName), next.Address)
	indexAdd(r.instances.bySvlt, servletKeyOf(next.AppName, next.ZoneName, next.ServletName), next.Address)
	r.publish(events.KindInstanceRegistered, next.Address)
	r.logger.Debug().Str("instance", next.Address).Int64("mtime", next.MTime).Msg("instance registered")
	return ok()
}

func (r *Registry) updateInstance(req *rpc.ManagerRequest) *Result {
	in := req.Instance
	if in == nil || in.Address == "" {
		return fail(errcode.InputParamError, "no instance address")
	}

	r.instances.mu.Lock()
	defer r.instances.mu.Unlock()

	existing, exists := r.instances.byAddr[in.Address]
	if !exists {
		return fail(errcode.InputParamError, "instance not exist")
	}

	next := *existing
	if in.Env != "" {
		next.Env = in.Env
	}
	if in.Color != "" {
		next.Color = in.Color
	}
	if in.Status != "" {
		next.Status = in.Status
	}
	next.Version++
	next.MTime = in.MTime

	value, res := marshalEntity(&next)
	if res != nil {
		return res
	}
	if res := r.commit([]storage.KV{{Key: storage.InstanceKey(next.Address), Value: value}}, nil); res != nil {
		return res
	}

	r.instances.byAddr[next.Address] = &next
	r.logger.Debug().Str("instance", next.Address).Msg("instance updated")
	return ok()
}

func (r *Registry) dropInstance(req *rpc.ManagerRequest) *Result {
	in := req.Instance
	if in == nil || in.Address == "" {
		return fail(errcode.InputParamError, "no instance address")
	}

	r.instances.mu.Lock()
	defer r.instances.mu.Unlock()

	existing, exists := r.instances.byAddr[in.Address]
	if !exists {
		return fail(errcode.InputParamError, "instance not exist")
	}

	if res := r.commit(nil, [][]byte{storage.InstanceKey(in.Address)}); res != nil {
		return res
	}

	delete(r.instances.byAddr, in.Address)
	indexRemove(r.instances.byApp, existing.AppName, in.Address)
	indexRemove(r.instances.byZone, zoneKeyOf(existing.AppName, existing.ZoneName), in.Address)
	indexRemove(r.instances.bySvlt, servletKeyOf(existing.AppName, existing.ZoneName, existing.ServletName), in.Address)
	r.publish(events.KindInstanceCancelled, in.Address)
	r.logger.Info().Str("instance", in.Address).Msg("instance cancelled")
	return ok()
}

func indexAdd(idx map[string]map[string]struct{}, key, addr string) {
	if idx[key] == nil {
		idx[key] = make(map[string]struct{})
	}
	idx[key][addr] = struct{}{}
}

func indexRemove(idx map[string]map[string]struct{}, key, addr string) {
	if set := idx[key]; set != nil {
		delete(set, addr)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}
