// Package rpc defines the Beacon wire surface: the request/response
// messages, the JSON codec they travel with, and the gRPC service
// descriptor shared by the discovery servers and the router peer.
package rpc

import (
	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/types"
)

// Manager op discriminants. The op selects which payload field of
// ManagerRequest is meaningful.
const (
	OpCreateApp     = "create_app"
	OpDropApp       = "drop_app"
	OpModifyApp     = "modify_app"
	OpCreateZone    = "create_zone"
	OpDropZone      = "drop_zone"
	OpModifyZone    = "modify_zone"
	OpCreateServlet = "create_servlet"
	OpDropServlet   = "drop_servlet"
	OpModifyServlet = "modify_servlet"

	OpAddInstance    = "add_instance"
	OpDropInstance   = "drop_instance"
	OpUpdateInstance = "update_instance"

	OpCreateUser    = "create_user"
	OpDropUser      = "drop_user"
	OpAddPrivilege  = "add_privilege"
	OpDropPrivilege = "drop_privilege"

	OpCreateConfig = "create_config"
	OpRemoveConfig = "remove_config"

	OpAddServletID   = "add_servlet_id"
	OpDropServletID  = "drop_servlet_id"
	OpGenID          = "gen_id"
	OpUpdateAutoIncr = "update_auto_incr"
)

// Query op discriminants.
const (
	QueryApp             = "query_app"
	QueryZone            = "query_zone"
	QueryServlet         = "query_servlet"
	QueryInstance        = "query_instance"
	QueryInstanceFlatten = "query_instance_flatten"
	QueryUser            = "query_user"
	QueryConfig          = "query_config"
	QueryConfigVersions  = "query_config_versions"
	QueryConfigList      = "query_config_list"
)

// UserOp carries the user/privilege mutation payload. Password is
// cleartext in the request and in the replicated log entry; the registry
// hashes it when the entry is applied and stores only the salted hash.
type UserOp struct {
	Username          string                   `json:"username"`
	Password          string                   `json:"password,omitempty"`
	AllowedIPs        []string                 `json:"allowed_ips,omitempty"`
	ZonePrivileges    []types.ZonePrivilege    `json:"zone_privileges,omitempty"`
	ServletPrivileges []types.ServletPrivilege `json:"servlet_privileges,omitempty"`
}

// AutoIncrOp carries the auto-increment mutation payload.
type AutoIncrOp struct {
	ServletID int64   `json:"servlet_id"`
	Start     *uint64 `json:"start,omitempty"`
	Increment *uint64 `json:"increment,omitempty"`
	Count     uint64  `json:"count,omitempty"`
	Force     bool    `json:"force,omitempty"`
}

// ManagerRequest is the single mutating request record. It is both the
// RPC body and, serialized, the raft log entry payload.
type ManagerRequest struct {
	Op       string          `json:"op"`
	App      *types.App      `json:"app,omitempty"`
	Zone     *types.Zone     `json:"zone,omitempty"`
	Servlet  *types.Servlet  `json:"servlet,omitempty"`
	Instance *types.Instance `json:"instance,omitempty"`
	User     *UserOp         `json:"user,omitempty"`
	Config   *types.Config   `json:"config,omitempty"`
	AutoIncr *AutoIncrOp     `json:"auto_incr,omitempty"`

	// RemoveAllVersions widens OpRemoveConfig to every version of the name.
	RemoveAllVersions bool `json:"remove_all_versions,omitempty"`
}

// ManagerResponse reports the outcome of a mutation.
type ManagerResponse struct {
	ErrCode errcode.Code `json:"errcode"`
	ErrMsg  string       `json:"errmsg,omitempty"`
	Leader  string       `json:"leader,omitempty"`
	Op      string       `json:"op,omitempty"`

	// GenID result range: [StartID, EndID).
	StartID uint64 `json:"start_id,omitempty"`
	EndID   uint64 `json:"end_id,omitempty"`
}

// UserView is the readable projection of a user; the password hash is
// reduced to a fingerprint.
type UserView struct {
	Username            string                   `json:"username"`
	PasswordFingerprint string                   `json:"password_fingerprint"`
	AllowedIPs          []string                 `json:"allowed_ips,omitempty"`
	ZonePrivileges      []types.ZonePrivilege    `json:"zone_privileges,omitempty"`
	ServletPrivileges   []types.ServletPrivilege `json:"servlet_privileges,omitempty"`
	Version             int64                    `json:"version"`
}

// QueryRequest selects a read-only projection.
type QueryRequest struct {
	Op              string `json:"op"`
	AppName         string `json:"app_name,omitempty"`
	ZoneName        string `json:"zone_name,omitempty"`
	ServletName     string `json:"servlet_name,omitempty"`
	InstanceAddress string `json:"instance_address,omitempty"`
	Username        string `json:"username,omitempty"`
	ConfigName      string `json:"config_name,omitempty"`
	ConfigVersion   string `json:"config_version,omitempty"`
}

// QueryResponse carries whichever projection the op selected.
type QueryResponse struct {
	ErrCode errcode.Code `json:"errcode"`
	ErrMsg  string       `json:"errmsg,omitempty"`
	Leader  string       `json:"leader,omitempty"`

	Apps        []types.App      `json:"apps,omitempty"`
	Zones       []types.Zone     `json:"zones,omitempty"`
	Servlets    []types.Servlet  `json:"servlets,omitempty"`
	Instances   []types.Instance `json:"instances,omitempty"`
	Users       []UserView       `json:"users,omitempty"`
	Configs     []types.Config   `json:"configs,omitempty"`
	ConfigNames []string         `json:"config_names,omitempty"`
	Versions    []string         `json:"versions,omitempty"`
}

// NamingRequest is the liveness-filtered discovery request.
type NamingRequest struct {
	AppName string   `json:"app_name"`
	Zones   []string `json:"zones"`
	Envs    []string `json:"envs"`
	Colors  []string `json:"colors"`
}

// NamingResponse lists the healthy instances that passed the filters,
// ordered by address.
type NamingResponse struct {
	ErrCode   errcode.Code     `json:"errcode"`
	ErrMsg    string           `json:"errmsg,omitempty"`
	Leader    string           `json:"leader,omitempty"`
	Instances []types.Instance `json:"instances,omitempty"`
}

// RegisterRequest is the servlet-side lifecycle payload for the
// register/update/cancel methods.
type RegisterRequest struct {
	Instance types.Instance `json:"instance"`
}

// RegisterResponse acknowledges a servlet lifecycle call.
type RegisterResponse struct {
	ErrCode errcode.Code `json:"errcode"`
	ErrMsg  string       `json:"errmsg,omitempty"`
	Leader  string       `json:"leader,omitempty"`
}

// TsoRequest asks for count consecutive timestamps.
type TsoRequest struct {
	Count int64 `json:"count"`
}

// TsoResponse returns the first timestamp of the allocated run.
type TsoResponse struct {
	ErrCode   errcode.Code       `json:"errcode"`
	ErrMsg    string             `json:"errmsg,omitempty"`
	Leader    string             `json:"leader,omitempty"`
	Timestamp types.TsoTimestamp `json:"timestamp"`
	Count     int64              `json:"count"`
}

// Raft control ops.
const (
	RaftOpStatus     = "status"
	RaftOpSnapshot   = "snapshot"
	RaftOpTransfer   = "transfer"
	RaftOpAddPeer    = "add_peer"
	RaftOpRemovePeer = "remove_peer"
	RaftOpShutdown   = "shutdown"
)

// Replication group names addressed by raft control.
const (
	GroupRegistry = "registry"
	GroupAutoIncr = "autoincr"
	GroupTso      = "tso"
)

// RaftControlRequest is an operator request against one replication group.
type RaftControlRequest struct {
	Op       string `json:"op"`
	Group    string `json:"group"`
	PeerID   string `json:"peer_id,omitempty"`
	PeerAddr string `json:"peer_addr,omitempty"`
}

// RaftStatus is the observable state of one replication group.
type RaftStatus struct {
	State        string   `json:"state"`
	Leader       string   `json:"leader"`
	Term         uint64   `json:"term"`
	LastIndex    uint64   `json:"last_index"`
	AppliedIndex uint64   `json:"applied_index"`
	Peers        []string `json:"peers"`
}

// RaftControlResponse reports a raft control outcome.
type RaftControlResponse struct {
	ErrCode errcode.Code `json:"errcode"`
	ErrMsg  string       `json:"errmsg,omitempty"`
	Leader  string       `json:"leader,omitempty"`
	Status  *RaftStatus  `json:"status,omitempty"`
}

// Watch event kinds.
const (
	EventInstanceRegistered = "instance.registered"
	EventInstanceCancelled  = "instance.cancelled"
	EventConfigCreated      = "config.created"
	EventConfigRemoved      = "config.removed"
	EventSchemaChanged      = "schema.changed"
)

// WatchRequest subscribes to change events, optionally narrowed to a set
// of kinds and/or a single config name.
type WatchRequest struct {
	Kinds      []string `json:"kinds,omitempty"`
	ConfigName string   `json:"config_name,omitempty"`
}

// WatchEvent is one change notification on the watch stream.
type WatchEvent struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
}
