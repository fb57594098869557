package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/beacon/pkg/autoincr"
	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/raftnode"
	"github.com/cuemby/beacon/pkg/registry"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/types"
)

const proposeTimeout = 5 * time.Second

// proposeRegistry serializes the request record and drives it through
// the registry group; the apply result becomes the response.
func (s *Server) proposeRegistry(req *rpc.ManagerRequest) *rpc.ManagerResponse {
	resp := &rpc.ManagerResponse{Op: req.Op}
	group := s.groups[rpc.GroupRegistry]

	data, err := json.Marshal(req)
	if err != nil {
		resp.ErrCode = errcode.ParseFromPbFail
		resp.ErrMsg = "serialize request failed"
		return resp
	}

	result, err := group.Propose(data, proposeTimeout)
	if err != nil {
		if errors.Is(err, raftnode.ErrNotLeader) {
			resp.ErrCode = errcode.NotLeader
			resp.ErrMsg = "not leader"
			resp.Leader = s.leaderHint(group)
			return resp
		}
		resp.ErrCode = errcode.InternalError
		resp.ErrMsg = err.Error()
		return resp
	}

	res, isResult := result.(*registry.Result)
	if !isResult {
		resp.ErrCode = errcode.InternalError
		resp.ErrMsg = "unexpected apply result"
		return resp
	}
	resp.ErrCode = res.Code
	resp.ErrMsg = res.Msg
	return resp
}

func (s *Server) proposeAutoIncr(req *rpc.ManagerRequest) *rpc.ManagerResponse {
	resp := &rpc.ManagerResponse{Op: req.Op}
	group := s.groups[rpc.GroupAutoIncr]

	data, err := json.Marshal(req)
	if err != nil {
		resp.ErrCode = errcode.ParseFromPbFail
		resp.ErrMsg = "serialize request failed"
		return resp
	}

	result, err := group.Propose(data, proposeTimeout)
	if err != nil {
		if errors.Is(err, raftnode.ErrNotLeader) {
			resp.ErrCode = errcode.NotLeader
			resp.ErrMsg = "not leader"
			resp.Leader = s.leaderHint(group)
			return resp
		}
		resp.ErrCode = errcode.InternalError
		resp.ErrMsg = err.Error()
		return resp
	}

	res, isResult := result.(*autoincr.Result)
	if !isResult {
		resp.ErrCode = errcode.InternalError
		resp.ErrMsg = "unexpected apply result"
		return resp
	}
	resp.ErrCode = res.Code
	resp.ErrMsg = res.Msg
	resp.StartID = res.StartID
	resp.EndID = res.EndID
	return resp
}

// validateConfigContent syntax-checks json and yaml payloads before they
// enter the log; other content types pass through.
func validateConfigContent(c *types.Config) (errcode.Code, string) {
	switch c.Type {
	case types.ConfigTypeJSON:
		if !json.Valid(c.Content) {
			return errcode.InputParamError, "config content is not valid json"
		}
	case types.ConfigTypeYAML:
		var v interface{}
		if err := yaml.Unmarshal(c.Content, &v); err != nil {
			return errcode.InputParamError, "config content is not valid yaml"
		}
	case "", types.ConfigTypeText, types.ConfigTypeGflags, types.ConfigTypeTOML, types.ConfigTypeINI:
	default:
		return errcode.InputParamError, "unknown config content type"
	}
	return errcode.Success, ""
}

// Manager routes every mutation. Wall-clock inputs (instance mtime,
// config ctime) are stamped here, before propose, so apply stays
// deterministic on every replica.
func (s *Server) Manager(ctx context.Context, req *rpc.ManagerRequest) (*rpc.ManagerResponse, error) {
	switch req.Op {
	case rpc.OpAddServletID, rpc.OpDropServletID, rpc.OpGenID, rpc.OpUpdateAutoIncr:
		return s.proposeAutoIncr(req), nil

	case rpc.OpAddInstance, rpc.OpUpdateInstance:
		if req.Instance != nil {
			req.Instance.MTime = time.Now().Unix()
		}
		return s.proposeRegistry(req), nil

	case rpc.OpCreateConfig:
		if req.Config != nil {
			if code, msg := validateConfigContent(req.Config); !code.OK() {
				return &rpc.ManagerResponse{Op: req.Op, ErrCode: code, ErrMsg: msg}, nil
			}
			req.Config.CTime = time.Now().Unix()
		}
		return s.proposeRegistry(req), nil

	default:
		return s.proposeRegistry(req), nil
	}
}

// Query answers locally from the in-memory indexes; valid on followers.
func (s *Server) Query(ctx context.Context, req *rpc.QueryRequest) (*rpc.QueryResponse, error) {
	resp := &rpc.QueryResponse{}
	switch req.Op {
	case rpc.QueryApp:
		resp.Apps, resp.ErrCode, resp.ErrMsg = s.registry.QueryApps(req.AppName)
	case rpc.QueryZone:
		resp.Zones, resp.ErrCode, resp.ErrMsg = s.registry.QueryZones(req.AppName, req.ZoneName)
	case rpc.QueryServlet:
		resp.Servlets, resp.ErrCode, resp.ErrMsg = s.registry.QueryServlets(req.AppName, req.ZoneName, req.ServletName)
	case rpc.QueryInstance:
		resp.Instances, resp.ErrCode, resp.ErrMsg = s.registry.QueryInstance(req.InstanceAddress)
	case rpc.QueryInstanceFlatten:
		resp.Instances, resp.ErrCode, resp.ErrMsg = s.registry.QueryInstanceFlatten(req.AppName, req.ZoneName, req.ServletName)
	case rpc.QueryUser:
		resp.Users, resp.ErrCode, resp.ErrMsg = s.registry.QueryUsers(req.Username)
	case rpc.QueryConfig:
		cfg, code, msg := s.registry.GetConfig(req.ConfigName, req.ConfigVersion)
		resp.ErrCode, resp.ErrMsg = code, msg
		if cfg != nil {
			resp.Configs = []types.Config{*cfg}
		}
	case rpc.QueryConfigVersions:
		resp.Versions, resp.ErrCode, resp.ErrMsg = s.registry.ConfigVersions(req.ConfigName)
	case rpc.QueryConfigList:
		resp.ConfigNames = s.registry.ConfigNames()
		resp.ErrCode, resp.ErrMsg = errcode.Success, "success"
	default:
		resp.ErrCode, resp.ErrMsg = errcode.InputParamError, "unknown query op: "+req.Op
	}
	return resp, nil
}

// Naming is the liveness-filtered discovery read.
func (s *Server) Naming(ctx context.Context, req *rpc.NamingRequest) (*rpc.NamingResponse, error) {
	return s.registry.Naming(req), nil
}

func (s *Server) registerOp(op string, req *rpc.RegisterRequest) *rpc.RegisterResponse {
	in := req.Instance
	mreq := &rpc.ManagerRequest{Op: op, Instance: &in}
	mresp, _ := s.Manager(context.Background(), mreq)
	return &rpc.RegisterResponse{
		ErrCode: mresp.ErrCode,
		ErrMsg:  mresp.ErrMsg,
		Leader:  mresp.Leader,
	}
}

// Register upserts a servlet instance (the registration heartbeat).
func (s *Server) Register(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	return s.registerOp(rpc.OpAddInstance, req), nil
}

// Update refreshes an instance's mutable fields.
func (s *Server) Update(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	return s.registerOp(rpc.OpUpdateInstance, req), nil
}

// Cancel removes an instance.
func (s *Server) Cancel(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	return s.registerOp(rpc.OpDropInstance, req), nil
}

// Tso allocates timestamps on the TSO leader. No proposal on this path;
// the oracle's committed window makes local allocation safe.
func (s *Server) Tso(ctx context.Context, req *rpc.TsoRequest) (*rpc.TsoResponse, error) {
	resp := &rpc.TsoResponse{}
	group := s.groups[rpc.GroupTso]
	if !group.IsLeader() {
		resp.ErrCode = errcode.NotLeader
		resp.ErrMsg = "not leader"
		resp.Leader = s.leaderHint(group)
		return resp, nil
	}

	ts, code, msg := s.tso.GenTso(req.Count)
	resp.ErrCode = code
	resp.ErrMsg = msg
	if code.OK() {
		resp.Timestamp = ts
		resp.Count = req.Count
	}
	return resp, nil
}

// RaftControl is the operator surface over the replication groups.
func (s *Server) RaftControl(ctx context.Context, req *rpc.RaftControlRequest) (*rpc.RaftControlResponse, error) {
	resp := &rpc.RaftControlResponse{}
	group, known := s.groups[req.Group]
	if !known {
		resp.ErrCode = errcode.InputParamError
		resp.ErrMsg = "unknown group: " + req.Group
		return resp, nil
	}

	var err error
	switch req.Op {
	case rpc.RaftOpStatus:
		resp.Status = s.groupStatus(group)
	case rpc.RaftOpSnapshot:
		err = group.Snapshot()
	case rpc.RaftOpTransfer:
		err = group.TransferLeadership(req.PeerID, req.PeerAddr)
	case rpc.RaftOpAddPeer:
		err = group.AddVoter(req.PeerID, req.PeerAddr)
	case rpc.RaftOpRemovePeer:
		err = group.RemoveServer(req.PeerID)
	case rpc.RaftOpShutdown:
		err = group.Shutdown()
	default:
		resp.ErrCode = errcode.InputParamError
		resp.ErrMsg = "unknown raft op: " + req.Op
		return resp, nil
	}

	if err != nil {
		if errors.Is(err, raftnode.ErrNotLeader) {
			resp.ErrCode = errcode.NotLeader
			resp.ErrMsg = "not leader"
			resp.Leader = s.leaderHint(group)
			return resp, nil
		}
		resp.ErrCode = errcode.ExecFail
		resp.ErrMsg = err.Error()
		return resp, nil
	}
	resp.ErrCode = errcode.Success
	resp.ErrMsg = "success"
	return resp, nil
}

func (s *Server) groupStatus(group *raftnode.Group) *rpc.RaftStatus {
	status := &rpc.RaftStatus{
		State:        group.State(),
		LastIndex:    group.LastIndex(),
		AppliedIndex: group.AppliedIndex(),
	}
	leaderAddr, leaderID := group.LeaderWithID()
	if client, known := s.peers[leaderID]; known {
		status.Leader = client
	} else {
		status.Leader = leaderAddr
	}
	if term, err := strconv.ParseUint(group.Stats()["term"], 10, 64); err == nil {
		status.Term = term
	}
	if servers, err := group.Servers(); err == nil {
		for _, srv := range servers {
			status.Peers = append(status.Peers, string(srv.ID)+"@"+string(srv.Address))
		}
	}
	return status
}

// Watch streams change events until the client goes away.
func (s *Server) Watch(req *rpc.WatchRequest, stream rpc.DiscoveryWatchServer) error {
	kinds := make(map[string]struct{}, len(req.Kinds))
	for _, k := range req.Kinds {
		kinds[k] = struct{}{}
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-s.stopCh:
			return nil
		case ev, open := <-sub:
			if !open {
				return nil
			}
			if len(kinds) > 0 {
				if _, wanted := kinds[string(ev.Kind)]; !wanted {
					continue
				}
			}
			if req.ConfigName != "" && !configKeyMatches(ev.Key, req.ConfigName) {
				continue
			}
			if err := stream.Send(&rpc.WatchEvent{
				ID:        ev.ID,
				Kind:      string(ev.Kind),
				Key:       ev.Key,
				Timestamp: ev.Timestamp.Unix(),
			}); err != nil {
				return err
			}
		}
	}
}

// configKeyMatches accepts "name" and "name/version" keys.
func configKeyMatches(key, name string) bool {
	if key == name {
		return true
	}
	return len(key) > len(name) && key[:len(name)] == name && key[len(name)] == '/'
}
