package registry

import (
	"sort"

	"github.com/blang/semver/v4"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/types"
)

// The query path never proposes; it reads the local indexes under their
// read locks and is valid on followers (stale reads are documented).

// QueryApps returns one app by name, or every app when name is empty.
func (r *Registry) QueryApps(name string) ([]types.App, errcode.Code, string) {
	r.apps.mu.RLock()
	defer r.apps.mu.RUnlock()

	if name == "" {
		out := make([]types.App, 0, len(r.apps.byID))
		for _, a := range r.apps.byID {
			out = append(out, *a)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, errcode.Success, "success"
	}
	id, exists := r.apps.nameToID[name]
	if !exists {
		return nil, errcode.InputParamError, "app not exist"
	}
	return []types.App{*r.apps.byID[id]}, errcode.Success, "success"
}

// QueryZones returns one zone, the zones of an app, or every zone.
func (r *Registry) QueryZones(appName, zoneName string) ([]types.Zone, errcode.Code, string) {
	r.zones.mu.RLock()
	defer r.zones.mu.RUnlock()

	if appName != "" && zoneName != "" {
		id, exists := r.zones.nameToID[zoneKeyOf(appName, zoneName)]
		if !exists {
			return nil, errcode.InputParamError, "zone not exist"
		}
		return []types.Zone{*r.zones.byID[id]}, errcode.Success, "success"
	}

	var out []types.Zone
	for _, z := range r.zones.byID {
		if appName != "" && z.AppName != appName {
			continue
		}
		out = append(out, *z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, errcode.Success, "success"
}

// QueryServlets mirrors QueryZones one level down.
func (r *Registry) QueryServlets(appName, zoneName, servletName string) ([]types.Servlet, errcode.Code, string) {
	r.servlets.mu.RLock()
	defer r.servlets.mu.RUnlock()

	if appName != "" && zoneName != "" && servletName != "" {
		id, exists := r.servlets.nameToID[servletKeyOf(appName, zoneName, servletName)]
		if !exists {
			return nil, errcode.InputParamError, "servlet not exist"
		}
		return []types.Servlet{*r.servlets.byID[id]}, errcode.Success, "success"
	}

	var out []types.Servlet
	for _, s := range r.servlets.byID {
		if appName != "" && s.AppName != appName {
			continue
		}
		if zoneName != "" && s.ZoneName != zoneName {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, errcode.Success, "success"
}

// QueryInstance returns the instance registered at address.
func (r *Registry) QueryInstance(address string) ([]types.Instance, errcode.Code, string) {
	if address == "" {
		return nil, errcode.InputParamError, "no instance address"
	}
	r.instances.mu.RLock()
	defer r.instances.mu.RUnlock()

	in, exists := r.instances.byAddr[address]
	if !exists {
		return nil, errcode.InputParamError, "instance not exists"
	}
	return []types.Instance{*in}, errcode.Success, "success"
}

// QueryInstanceFlatten lists instances under the given prefix: all of
// them, an app's, a zone's, or a servlet's.
func (r *Registry) QueryInstanceFlatten(appName, zoneName, servletName string) ([]types.Instance, errcode.Code, string) {
	r.instances.mu.RLock()
	defer r.instances.mu.RUnlock()

	collect := func(addrs map[string]struct{}) []types.Instance {
		out := make([]types.Instance, 0, len(addrs))
		for addr := range addrs {
			if in, exists := r.instances.byAddr[addr]; exists {
				out = append(out, *in)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
		return out
	}

	switch {
	case appName == "":
		all := make(map[string]struct{}, len(r.instances.byAddr))
		for addr := range r.instances.byAddr {
			all[addr] = struct{}{}
		}
		return collect(all), errcode.Success, "success"
	case zoneName == "":
		addrs, exists := r.instances.byApp[appName]
		if !exists {
			return nil, errcode.InputParamError, "no instance in app " + appName
		}
		return collect(addrs), errcode.Success, "success"
	case servletName == "":
		addrs, exists := r.instances.byZone[zoneKeyOf(appName, zoneName)]
		if !exists {
			return nil, errcode.InputParamError, "no instance in " + appName + "." + zoneName
		}
		return collect(addrs), errcode.Success, "success"
	default:
		addrs, exists := r.instances.bySvlt[servletKeyOf(appName, zoneName, servletName)]
		if !exists {
			return nil, errcode.InputParamError, "no instance in " + appName + "." + zoneName + "." + servletName
		}
		return collect(addrs), errcode.Success, "success"
	}
}

// QueryUsers returns one user view, or every user when name is empty.
// Password hashes are reduced to an 8-hex-digit fingerprint.
func (r *Registry) QueryUsers(username string) ([]rpc.UserView, errcode.Code, string) {
	r.users.mu.RLock()
	defer r.users.mu.RUnlock()

	view := func(u *types.UserPrivilege) rpc.UserView {
		fp := u.PasswordHash
		if len(fp) > 8 {
			fp = fp[:8]
		}
		return rpc.UserView{
			Username:            u.Username,
			PasswordFingerprint: fp,
			AllowedIPs:          append([]string(nil), u.AllowedIPs...),
			ZonePrivileges:      append([]types.ZonePrivilege(nil), u.ZonePrivileges...),
			ServletPrivileges:   append([]types.ServletPrivilege(nil), u.ServletPrivileges...),
			Version:             u.Version,
		}
	}

	if username != "" {
		u, exists := r.users.byName[username]
		if !exists {
			return nil, errcode.InputParamError, "user not exist"
		}
		return []rpc.UserView{view(u)}, errcode.Success, "success"
	}

	out := make([]rpc.UserView, 0, len(r.users.byName))
	for _, u := range r.users.byName {
		out = append(out, view(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, errcode.Success, "success"
}

// GetConfig fetches one config: the named version, or the greatest
// semver when version is empty.
func (r *Registry) GetConfig(name, version string) (*types.Config, errcode.Code, string) {
	if name == "" {
		return nil, errcode.InputParamError, "no config name"
	}
	r.configs.mu.RLock()
	defer r.configs.mu.RUnlock()

	versions := r.configs.byName[name]
	if len(versions) == 0 {
		return nil, errcode.ConfigNotExists, "config not exist"
	}

	if version != "" {
		cfg, exists := versions[version]
		if !exists {
			return nil, errcode.ConfigNotExistsVersion, "config version not exist"
		}
		c := *cfg
		return &c, errcode.Success, "success"
	}

	var best *types.Config
	var bestVer semver.Version
	for vs, cfg := range versions {
		v, err := semver.Parse(vs)
		if err != nil {
			continue
		}
		if best == nil || v.GT(bestVer) {
			best = cfg
			bestVer = v
		}
	}
	if best == nil {
		return nil, errcode.ConfigNotExists, "config not exist"
	}
	c := *best
	return &c, errcode.Success, "success"
}

// ConfigNames lists the stored config names.
func (r *Registry) ConfigNames() []string {
	r.configs.mu.RLock()
	defer r.configs.mu.RUnlock()

	out := make([]string, 0, len(r.configs.byName))
	for name := range r.configs.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ConfigVersions lists the versions of one name in semver order.
func (r *Registry) ConfigVersions(name string) ([]string, errcode.Code, string) {
	r.configs.mu.RLock()
	defer r.configs.mu.RUnlock()

	versions := r.configs.byName[name]
	if len(versions) == 0 {
		return nil, errcode.ConfigNotExists, "config not exist"
	}
	parsed := make([]semver.Version, 0, len(versions))
	for vs := range versions {
		if v, err := semver.Parse(vs); err == nil {
			parsed = append(parsed, v)
		}
	}
	semver.Sort(parsed)
	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.String()
	}
	return out, errcode.Success, "success"
}
