// Package errcode defines the wire-visible error codes shared by every
// Beacon RPC response. Codes travel as integers; the string form is for
// logs and CLI output only.
package errcode

import "fmt"

// Code is the numeric error discriminant carried in every response.
type Code int32

const (
	Success                Code = 0
	NotLeader              Code = 1
	InternalError          Code = 2
	InputParamError        Code = 3
	ParseFromPbFail        Code = 4
	ParseToPbFail          Code = 5
	ConfigExists           Code = 6
	ConfigNotExists        Code = 7
	ConfigNotExistsVersion Code = 8
	RetryLater             Code = 9
	ExecFail               Code = 10
	PeerNotEqual           Code = 11
	HaveNotInit            Code = 12
)

var names = map[Code]string{
	Success:                "SUCCESS",
	NotLeader:              "NOT_LEADER",
	InternalError:          "INTERNAL_ERROR",
	InputParamError:        "INPUT_PARAM_ERROR",
	ParseFromPbFail:        "PARSE_FROM_PB_FAIL",
	ParseToPbFail:          "PARSE_TO_PB_FAIL",
	ConfigExists:           "CONFIG_EXISTS",
	ConfigNotExists:        "CONFIG_NOT_EXISTS",
	ConfigNotExistsVersion: "CONFIG_NOT_EXISTS_VERSION",
	RetryLater:             "RETRY_LATER",
	ExecFail:               "EXEC_FAIL",
	PeerNotEqual:           "PEER_NOT_EQUAL",
	HaveNotInit:            "HAVE_NOT_INIT",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(c))
}

// OK reports whether the code is Success.
func (c Code) OK() bool {
	return c == Success
}
