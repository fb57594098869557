package registry

import (
	"sort"
	"time"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/types"
)

// Naming resolves the discovery request: intersect the requested zones
// with the app's zones, walk the servlets under them, and keep instances
// that match env and color, report NORMAL status, and heartbeated within
// the liveness window.
//
// Filters are literal set membership: an empty zones list matches no zone
// and fails with INPUT_PARAM_ERROR; an empty envs or colors list matches no
// instance. "Every instance of an app" is the flatten query's job.
func (r *Registry) Naming(req *rpc.NamingRequest) *rpc.NamingResponse {
	return r.namingAt(req, time.Now())
}

func (r *Registry) namingAt(req *rpc.NamingRequest, now time.Time) *rpc.NamingResponse {
	resp := &rpc.NamingResponse{}

	r.apps.mu.RLock()
	appID, exists := r.apps.nameToID[req.AppName]
	var zoneIDs map[int64]struct{}
	if exists {
		zoneIDs = make(map[int64]struct{}, len(r.apps.zoneIDs[appID]))
		for id := range r.apps.zoneIDs[appID] {
			zoneIDs[id] = struct{}{}
		}
	}
	r.apps.mu.RUnlock()

	if !exists {
		resp.ErrCode = errcode.InputParamError
		resp.ErrMsg = "app not exist"
		return resp
	}
	if len(zoneIDs) == 0 {
		resp.ErrCode = errcode.InputParamError
		resp.ErrMsg = "app has no zone"
		return resp
	}

	// requested zone names -> ids, intersected with the app's zone set
	wanted := make(map[int64]struct{})
	zoneNames := make(map[int64]string)
	r.zones.mu.RLock()
	for _, zn := range req.Zones {
		if id, exists := r.zones.nameToID[zoneKeyOf(req.AppName, zn)]; exists {
			if _, member := zoneIDs[id]; member {
				wanted[id] = struct{}{}
				zoneNames[id] = zn
			}
		}
	}
	r.zones.mu.RUnlock()
	if len(wanted) == 0 {
		resp.ErrCode = errcode.InputParamError
		resp.ErrMsg = "zone not exist"
		return resp
	}

	envSet := make(map[string]struct{}, len(req.Envs))
	for _, e := range req.Envs {
		envSet[e] = struct{}{}
	}
	colorSet := make(map[string]struct{}, len(req.Colors))
	for _, c := range req.Colors {
		colorSet[c] = struct{}{}
	}

	cutoff := now.Unix() - int64(r.livenessWindow/time.Second)

	var matched []types.Instance
	r.instances.mu.RLock()
	for id := range wanted {
		addrs := r.instances.byZone[zoneKeyOf(req.AppName, zoneNames[id])]
		for addr := range addrs {
			in, exists := r.instances.byAddr[addr]
			if !exists {
				continue
			}
			if _, member := envSet[in.Env]; !member {
				continue
			}
			if _, member := colorSet[in.Color]; !member {
				continue
			}
			if in.Status != types.InstanceStatusNormal {
				continue
			}
			if in.MTime < cutoff {
				continue
			}
			matched = append(matched, *in)
		}
	}
	r.instances.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Address < matched[j].Address })
	resp.ErrCode = errcode.Success
	resp.ErrMsg = "success"
	resp.Instances = matched
	return resp
}

// StaleInstances lists addresses whose mtime is older than ttl at now.
// The compaction fiber proposes DropInstance for each.
func (r *Registry) StaleInstances(ttl time.Duration, now time.Time) []string {
	cutoff := now.Unix() - int64(ttl/time.Second)

	r.instances.mu.RLock()
	defer r.instances.mu.RUnlock()

	var out []string
	for addr, in := range r.instances.byAddr {
		if in.MTime < cutoff {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}
