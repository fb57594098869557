package rpc

import "github.com/cuemby/beacon/pkg/errcode"

// Response is what every reply type has in common: the error code and,
// on NOT_LEADER, the endpoint to rebind to. The retrying sender only
// needs this surface.
type Response interface {
	Errcode() errcode.Code
	LeaderHint() string
}

func (r *ManagerResponse) Errcode() errcode.Code     { return r.ErrCode }
func (r *ManagerResponse) LeaderHint() string        { return r.Leader }
func (r *QueryResponse) Errcode() errcode.Code       { return r.ErrCode }
func (r *QueryResponse) LeaderHint() string          { return r.Leader }
func (r *NamingResponse) Errcode() errcode.Code      { return r.ErrCode }
func (r *NamingResponse) LeaderHint() string         { return r.Leader }
func (r *RegisterResponse) Errcode() errcode.Code    { return r.ErrCode }
func (r *RegisterResponse) LeaderHint() string       { return r.Leader }
func (r *TsoResponse) Errcode() errcode.Code         { return r.ErrCode }
func (r *TsoResponse) LeaderHint() string            { return r.Leader }
func (r *RaftControlResponse) Errcode() errcode.Code { return r.ErrCode }
func (r *RaftControlResponse) LeaderHint() string    { return r.Leader }
