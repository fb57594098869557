package storage

import "encoding/binary"

// Key layout. Single column family; every key starts with a one-byte
// region tag. Entity ids inside keys are 8-byte big-endian so prefix
// scans iterate in id order.
//
//	0x01 0x01 0x02            max_app_id          (value: int64)
//	0x01 0x01 0x09            max_zone_id
//	0x01 0x01 0x0A            max_servlet_id
//	0x01 0x02 <id:8>          App
//	0x01 0x09 <id:8>          Zone
//	0x01 0x0A <id:8>          Servlet
//	0x02 <username>           UserPrivilege
//	0x03 0x01 max_instance_id max_instance_id
//	0x03 0x03 <address>       Instance
//	0x04 max_config_id        max_config_id
//	0x04 0x02 <id:8>          Config
const (
	schemaRegion    = 0x01
	privilegeRegion = 0x02
	discoveryRegion = 0x03
	configRegion    = 0x04

	schemaMaxIDTag   = 0x01
	schemaAppTag     = 0x02
	schemaZoneTag    = 0x09
	schemaServletTag = 0x0A

	discoveryMaxIDTag    = 0x01
	discoveryInstanceTag = 0x03

	configContentTag = 0x02
)

const tsoRegion = 0x05

const (
	maxConfigIDLiteral     = "max_config_id"
	maxInstanceIDLiteral   = "max_instance_id"
	tsoSavePhysicalLiteral = "last_save_physical"
)

// EncodeInt64 renders v as 8 big-endian bytes.
func EncodeInt64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

// DecodeInt64 is the inverse of EncodeInt64.
func DecodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func idKey(region, tag byte, id int64) []byte {
	k := make([]byte, 0, 10)
	k = append(k, region, tag)
	k = append(k, EncodeInt64(id)...)
	return k
}

func MaxAppIDKey() []byte     { return []byte{schemaRegion, schemaMaxIDTag, schemaAppTag} }
func MaxZoneIDKey() []byte    { return []byte{schemaRegion, schemaMaxIDTag, schemaZoneTag} }
func MaxServletIDKey() []byte { return []byte{schemaRegion, schemaMaxIDTag, schemaServletTag} }

func AppKey(id int64) []byte     { return idKey(schemaRegion, schemaAppTag, id) }
func ZoneKey(id int64) []byte    { return idKey(schemaRegion, schemaZoneTag, id) }
func ServletKey(id int64) []byte { return idKey(schemaRegion, schemaServletTag, id) }

func AppPrefix() []byte     { return []byte{schemaRegion, schemaAppTag} }
func ZonePrefix() []byte    { return []byte{schemaRegion, schemaZoneTag} }
func ServletPrefix() []byte { return []byte{schemaRegion, schemaServletTag} }

func PrivilegeKey(username string) []byte {
	return append([]byte{privilegeRegion}, username...)
}

func PrivilegePrefix() []byte { return []byte{privilegeRegion} }

func InstanceKey(address string) []byte {
	return append([]byte{discoveryRegion, discoveryInstanceTag}, address...)
}

func InstancePrefix() []byte { return []byte{discoveryRegion, discoveryInstanceTag} }

func MaxInstanceIDKey() []byte {
	return append([]byte{discoveryRegion, discoveryMaxIDTag}, maxInstanceIDLiteral...)
}

func ConfigKey(id int64) []byte { return idKey(configRegion, configContentTag, id) }

func ConfigPrefix() []byte { return []byte{configRegion, configContentTag} }

func MaxConfigIDKey() []byte {
	return append([]byte{configRegion}, maxConfigIDLiteral...)
}

// SchemaPrefix covers apps, zones, servlets and the schema max-id keys.
func SchemaPrefix() []byte { return []byte{schemaRegion} }

// DiscoveryPrefix covers instances and the instance max-id key.
func DiscoveryPrefix() []byte { return []byte{discoveryRegion} }

// ConfigRegionPrefix covers config blobs and max_config_id.
func ConfigRegionPrefix() []byte { return []byte{configRegion} }

// TsoSavePhysicalKey holds the oracle's committed physical upper bound.
func TsoSavePhysicalKey() []byte {
	return append([]byte{tsoRegion}, tsoSavePhysicalLiteral...)
}

// TsoPrefix covers the oracle's keys.
func TsoPrefix() []byte { return []byte{tsoRegion} }
