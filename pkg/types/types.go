package types

// App is the top level of the registry hierarchy. Apps own zones.
type App struct {
	Name    string `json:"name"`
	ID      int64  `json:"id"`
	Quota   int64  `json:"quota"`
	Version int64  `json:"version"`
}

// Zone is a deployment zone under an app. Zones own servlets.
type Zone struct {
	AppName string `json:"app_name"`
	AppID   int64  `json:"app_id"`
	Name    string `json:"name"`
	ID      int64  `json:"id"`
	Quota   int64  `json:"quota"`
	Version int64  `json:"version"`
}

// Servlet is a logical service under a zone. Servlets own instances.
type Servlet struct {
	AppName  string `json:"app_name"`
	AppID    int64  `json:"app_id"`
	ZoneName string `json:"zone_name"`
	ZoneID   int64  `json:"zone_id"`
	Name     string `json:"name"`
	ID       int64  `json:"id"`
	Version  int64  `json:"version"`
}

// InstanceStatus describes the serving health a registered instance reports
// about itself. Naming only hands out NORMAL instances.
type InstanceStatus string

const (
	InstanceStatusNormal  InstanceStatus = "NORMAL"
	InstanceStatusMigrate InstanceStatus = "MIGRATE"
	InstanceStatusSlow    InstanceStatus = "SLOW"
	InstanceStatusFaulty  InstanceStatus = "FAULTY"
)

// Instance is a running process registered under app/zone/servlet,
// keyed by its network address. MTime is wall-clock seconds at the last
// write and drives the naming liveness filter.
type Instance struct {
	Address     string         `json:"address"`
	AppName     string         `json:"app_name"`
	ZoneName    string         `json:"zone_name"`
	ServletName string         `json:"servlet_name"`
	Env         string         `json:"env"`
	Color       string         `json:"color"`
	Status      InstanceStatus `json:"status"`
	Version     int64          `json:"version"`
	MTime       int64          `json:"mtime"`
}

// RW is the read/write flag on a privilege grant.
type RW string

const (
	PrivilegeRead  RW = "READ"
	PrivilegeWrite RW = "WRITE"
)

// ZonePrivilege grants a user access to every servlet in a zone.
type ZonePrivilege struct {
	AppName  string `json:"app_name"`
	ZoneName string `json:"zone_name"`
	RW       RW     `json:"rw"`
}

// ServletPrivilege grants a user access to a single servlet.
type ServletPrivilege struct {
	AppName     string `json:"app_name"`
	ZoneName    string `json:"zone_name"`
	ServletName string `json:"servlet_name"`
	RW          RW     `json:"rw"`
}

// UserPrivilege is the stored record for a user: a password hash, the
// source IPs the user may connect from, and the zone/servlet grants.
// PasswordHash is a salted SHA-256 digest; the cleartext is never stored.
type UserPrivilege struct {
	Username          string             `json:"username"`
	PasswordHash      string             `json:"password_hash"`
	AllowedIPs        []string           `json:"allowed_ips,omitempty"`
	ZonePrivileges    []ZonePrivilege    `json:"zone_privileges,omitempty"`
	ServletPrivileges []ServletPrivilege `json:"servlet_privileges,omitempty"`
	Version           int64              `json:"version"`
}

// ConfigType tags the syntax of a config blob. JSON and YAML payloads are
// syntax-checked before they are accepted.
type ConfigType string

const (
	ConfigTypeText   ConfigType = "text"
	ConfigTypeJSON   ConfigType = "json"
	ConfigTypeYAML   ConfigType = "yaml"
	ConfigTypeGflags ConfigType = "gflags"
	ConfigTypeTOML   ConfigType = "toml"
	ConfigTypeINI    ConfigType = "ini"
)

// Config is one immutable version of a named configuration blob.
// Version is a semver string; ordering across versions of one name is
// semver order.
type Config struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	Version string     `json:"version"`
	Content []byte     `json:"content"`
	Type    ConfigType `json:"type"`
	CTime   int64      `json:"ctime"`
}

// TsoTimestamp is one issued oracle value. Logical is an 18-bit counter
// below Physical milliseconds.
type TsoTimestamp struct {
	Physical int64 `json:"physical"`
	Logical  int64 `json:"logical"`
}
