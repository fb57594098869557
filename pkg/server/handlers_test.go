package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/types"
)

func TestValidateConfigContent(t *testing.T) {
	tests := []struct {
		name    string
		ctype   types.ConfigType
		content string
		want    errcode.Code
	}{
		{"valid json", types.ConfigTypeJSON, `{"a": 1}`, errcode.Success},
		{"broken json", types.ConfigTypeJSON, `{"a": `, errcode.InputParamError},
		{"valid yaml", types.ConfigTypeYAML, "a: 1\nb:\n  - x\n", errcode.Success},
		{"broken yaml", types.ConfigTypeYAML, "a: [unclosed\nb: }{", errcode.InputParamError},
		{"text passes through", types.ConfigTypeText, "anything at all", errcode.Success},
		{"untyped passes through", "", "anything", errcode.Success},
		{"gflags passes through", types.ConfigTypeGflags, "--flag=1", errcode.Success},
		{"unknown type rejected", "protobuf", "x", errcode.InputParamError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := validateConfigContent(&types.Config{
				Type:    tt.ctype,
				Content: []byte(tt.content),
			})
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestConfigKeyMatches(t *testing.T) {
	assert.True(t, configKeyMatches("routing", "routing"))
	assert.True(t, configKeyMatches("routing/1.0.0", "routing"))
	assert.False(t, configKeyMatches("routing2/1.0.0", "routing"))
	assert.False(t, configKeyMatches("rout", "routing"))
}

func TestRaftAddrFor(t *testing.T) {
	addr, err := raftAddrFor("127.0.0.1:8800", 2)
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8802", addr)

	_, err = raftAddrFor("no-port", 0)
	assert.Error(t, err)
}
