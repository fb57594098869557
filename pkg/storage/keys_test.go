package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The key layout is a wire contract; these bytes must never drift.
func TestKeyLayout(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x01, 0x02}, MaxAppIDKey())
	assert.Equal(t, []byte{0x01, 0x01, 0x09}, MaxZoneIDKey())
	assert.Equal(t, []byte{0x01, 0x01, 0x0A}, MaxServletIDKey())

	assert.Equal(t, []byte{0x01, 0x02, 0, 0, 0, 0, 0, 0, 0, 7}, AppKey(7))
	assert.Equal(t, []byte{0x01, 0x09, 0, 0, 0, 0, 0, 0, 0, 7}, ZoneKey(7))
	assert.Equal(t, []byte{0x01, 0x0A, 0, 0, 0, 0, 0, 0, 0, 7}, ServletKey(7))

	assert.Equal(t, append([]byte{0x02}, "alice"...), PrivilegeKey("alice"))
	assert.Equal(t, append([]byte{0x03, 0x03}, "10.0.0.1:80"...), InstanceKey("10.0.0.1:80"))
	assert.Equal(t, []byte{0x04, 0x02, 0, 0, 0, 0, 0, 0, 0, 7}, ConfigKey(7))
	assert.Equal(t, append([]byte{0x04}, "max_config_id"...), MaxConfigIDKey())
}

func TestIDKeysSortNumerically(t *testing.T) {
	// big-endian ids keep prefix scans in id order past single digits
	assert.Equal(t, -1, compare(AppKey(9), AppKey(10)))
	assert.Equal(t, -1, compare(AppKey(255), AppKey(256)))
}

func compare(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

func TestEncodeDecodeInt64(t *testing.T) {
	for _, v := range []int64{0, 1, 255, 1 << 32, 1<<62 - 1} {
		assert.Equal(t, v, DecodeInt64(EncodeInt64(v)))
	}
	assert.Equal(t, int64(0), DecodeInt64([]byte{1, 2}), "short input decodes to zero")
}
