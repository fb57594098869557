package registry

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// hashPassword digests the cleartext salted with the username. The salt
// keeps equal passwords of different users distinct while staying
// deterministic across replicas applying the same log entry.
func hashPassword(username, password string) string {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return hex.EncodeToString(sum[:])
}

func (r *Registry) createUser(req *rpc.ManagerRequest) *Result {
	u := req.User
	if u == nil || u.Username == "" {
		return fail(errcode.InputParamError, "no username")
	}

	r.users.mu.Lock()
	defer r.users.mu.Unlock()

	if _, exists := r.users.byName[u.Username]; exists {
		return fail(errcode.InputParamError, "user already existed")
	}

	user := types.UserPrivilege{
		Username:          u.Username,
		PasswordHash:      hashPassword(u.Username, u.Password),
		AllowedIPs:        append([]string(nil), u.AllowedIPs...),
		ZonePrivileges:    append([]types.ZonePrivilege(nil), u.ZonePrivileges...),
		ServletPrivileges: append([]types.ServletPrivilege(nil), u.ServletPrivileges...),
		Version:           1,
	}

	value, res := marshalEntity(&user)
	if res != nil {
		return res
	}
	if res := r.commit([]storage.KV{{Key: storage.PrivilegeKey(u.Username), Value: value}}, nil); res != nil {
		return res
	}

	r.users.byName[u.Username] = &user
	r.logger.Info().Str("user", u.Username).Msg("create user success")
	return ok()
}

func (r *Registry) dropUser(req *rpc.ManagerRequest) *Result {
	u := req.User
	if u == nil || u.Username == "" {
		return fail(errcode.InputParamError, "no username")
	}

	r.users.mu.Lock()
	defer r.users.mu.Unlock()

	if _, exists := r.users.byName[u.Username]; !exists {
		return fail(errcode.InputParamError, "user not exist")
	}

	if res := r.commit(nil, [][]byte{storage.PrivilegeKey(u.Username)}); res != nil {
		return res
	}

	delete(r.users.byName, u.Username)
	r.logger.Info().Str("user", u.Username).Msg("drop user success")
	return ok()
}

// addPrivilege merges grants and source IPs into an existing user. A
// non-empty password replaces the stored hash (the password-change path
// rides this op).
func (r *Registry) addPrivilege(req *rpc.ManagerRequest) *Result {
	u := req.User
	if u == nil || u.Username == "" {
		return fail(errcode.InputParamError, "no username")
	}

	r.users.mu.Lock()
	defer r.users.mu.Unlock()

	existing, exists := r.users.byName[u.Username]
	if !exists {
		return fail(errcode.InputParamError, "user not exist")
	}

	user := cloneUser(existing)
	if u.Password != "" {
		user.PasswordHash = hashPassword(u.Username, u.Password)
	}
	for _, ip := range u.AllowedIPs {
		if !containsString(user.AllowedIPs, ip) {
			user.AllowedIPs = append(user.AllowedIPs, ip)
		}
	}
	for _, zp := range u.ZonePrivileges {
		user.ZonePrivileges = upsertZonePrivilege(user.ZonePrivileges, zp)
	}
	for _, sp := range u.ServletPrivileges {
		user.ServletPrivileges = upsertServletPrivilege(user.ServletPrivileges, sp)
	}
	user.Version++

	value, res := marshalEntity(user)
	if res != nil {
		return res
	}
	if res := r.commit([]storage.KV{{Key: storage.PrivilegeKey(u.Username), Value: value}}, nil); res != nil {
		return res
	}

	r.users.byName[u.Username] = user
	r.logger.Info().Str("user", u.Username).Int64("version", user.Version).Msg("add privilege success")
	return ok()
}

func (r *Registry) dropPrivilege(req *rpc.ManagerRequest) *Result {
	u := req.User
	if u == nil || u.Username == "" {
		return fail(errcode.InputParamError, "no username")
	}

	r.users.mu.Lock()
	defer r.users.mu.Unlock()

	existing, exists := r.users.byName[u.Username]
	if !exists {
		return fail(errcode.InputParamError, "user not exist")
	}

	user := cloneUser(existing)
	for _, ip := range u.AllowedIPs {
		user.AllowedIPs = removeString(user.AllowedIPs, ip)
	}
	for _, zp := range u.ZonePrivileges {
		user.ZonePrivileges = removeZonePrivilege(user.ZonePrivileges, zp)
	}
	for _, sp := range u.ServletPrivileges {
		user.ServletPrivileges = removeServletPrivilege(user.ServletPrivileges, sp)
	}
	user.Version++

	value, res := marshalEntity(user)
	if res != nil {
		return res
	}
	if res := r.commit([]storage.KV{{Key: storage.PrivilegeKey(u.Username), Value: value}}, nil); res != nil {
		return res
	}

	r.users.byName[u.Username] = user
	r.logger.Info().Str("user", u.Username).Int64("version", user.Version).Msg("drop privilege success")
	return ok()
}

func cloneUser(u *types.UserPrivilege) *types.UserPrivilege {
	c := *u
	c.AllowedIPs = append([]string(nil), u.AllowedIPs...)
	c.ZonePrivileges = append([]types.ZonePrivilege(nil), u.ZonePrivileges...)
	c.ServletPrivileges = append([]types.ServletPrivilege(nil), u.ServletPrivileges...)
	return &c
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func upsertZonePrivilege(list []types.ZonePrivilege, p types.ZonePrivilege) []types.ZonePrivilege {
	for i, v := range list {
		if v.AppName == p.AppName && v.ZoneName == p.ZoneName {
			list[i].RW = p.RW
			return list
		}
	}
	return append(list, p)
}

func removeZonePrivilege(list []types.ZonePrivilege, p types.ZonePrivilege) []types.ZonePrivilege {
	out := list[:0]
	for _, v := range list {
		if !(v.AppName == p.AppName && v.ZoneName == p.ZoneName) {
			out = append(out, v)
		}
	}
	return out
}

func upsertServletPrivilege(list []types.ServletPrivilege, p types.ServletPrivilege) []types.ServletPrivilege {
	for i, v := range list {
		if v.AppName == p.AppName && v.ZoneName == p.ZoneName && v.ServletName == p.ServletName {
			list[i].RW = p.RW
			return list
		}
	}
	return append(list, p)
}

func removeServletPrivilege(list []types.ServletPrivilege, p types.ServletPrivilege) []types.ServletPrivilege {
	out := list[:0]
	for _, v := range list {
		if !(v.AppName == p.AppName && v.ZoneName == p.ZoneName && v.ServletName == p.ServletName) {
			out = append(out, v)
		}
	}
	return out
}
