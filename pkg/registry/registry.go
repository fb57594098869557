// Package registry implements the replicated schema state machine: the
// app → zone → servlet → instance hierarchy, users and privileges, and
// versioned config blobs. Every mutation arrives as a committed raft
// entry; Apply updates the durable KV store and the in-memory indexes
// atomically with respect to readers. The query path (query.go,
// naming.go) reads the indexes under their fiber-fencing mutexes and is
// safe on followers.
package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/cuemby/beacon/pkg/errcode"
	"github.com/cuemby/beacon/pkg/events"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/metrics"
	"github.com/cuemby/beacon/pkg/rpc"
	"github.com/cuemby/beacon/pkg/storage"
	"github.com/cuemby/beacon/pkg/types"
)

// DefaultLivenessWindow hides instances from naming when their mtime is
// older than this many seconds.
const DefaultLivenessWindow = 50 * time.Second

// compositeSep joins hierarchical names into one index key.
const compositeSep = "\x01"

func zoneKeyOf(app, zone string) string {
	return app + compositeSep + zone
}

func servletKeyOf(app, zone, servlet string) string {
	return app + compositeSep + zone + compositeSep + servlet
}

// Result is the completion value Apply returns for one entry; the RPC
// handler that proposed the entry builds its response from it.
type Result struct {
	Code errcode.Code
	Msg  string
}

func ok() *Result {
	return &Result{Code: errcode.Success, Msg: "success"}
}

func fail(code errcode.Code, msg string) *Result {
	return &Result{Code: code, Msg: msg}
}

type appIndex struct {
	mu       sync.RWMutex
	maxID    int64
	nameToID map[string]int64
	byID     map[int64]*types.App
	// app id -> child zone ids; memory only, rebuilt from zones
	zoneIDs map[int64]map[int64]struct{}
}

type zoneIndex struct {
	mu       sync.RWMutex
	maxID    int64
	nameToID map[string]int64 // app \x01 zone -> id
	byID     map[int64]*types.Zone
	// zone id -> child servlet ids
	servletIDs map[int64]map[int64]struct{}
}

type servletIndex struct {
	mu       sync.RWMutex
	maxID    int64
	nameToID map[string]int64 // app \x01 zone \x01 servlet -> id
	byID     map[int64]*types.Servlet
}

type instanceIndex struct {
	mu     sync.RWMutex
	maxID  int64
	byAddr map[string]*types.Instance
	// hierarchy projections for the flatten and naming paths
	byApp     map[string]map[string]struct{}
	byZone    map[string]map[string]struct{}
	bySvlt    map[string]map[string]struct{}
}

type userIndex struct {
	mu     sync.RWMutex
	byName map[string]*types.UserPrivilege
}

type configIndex struct {
	mu    sync.RWMutex
	maxID int64
	// name -> version string -> config
	byName map[string]map[string]*types.Config
}

// Registry is the registry state machine. One value per process, owned
// by the server; tests construct their own.
type Registry struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger

	livenessWindow time.Duration

	apps      appIndex
	zones     zoneIndex
	servlets  servletIndex
	instances instanceIndex
	users     userIndex
	configs   configIndex
}

// Option tweaks registry construction.
type Option func(*Registry)

// WithBroker attaches a change-event broker.
func WithBroker(b *events.Broker) Option {
	return func(r *Registry) { r.broker = b }
}

// WithLivenessWindow overrides the naming staleness cutoff.
func WithLivenessWindow(d time.Duration) Option {
	return func(r *Registry) { r.livenessWindow = d }
}

// New creates an empty registry on top of store.
func New(store storage.Store, opts ...Option) *Registry {
	r := &Registry{
		store:          store,
		logger:         log.WithComponent("registry"),
		livenessWindow: DefaultLivenessWindow,
	}
	r.resetIndexes()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) resetIndexes() {
	r.apps.nameToID = make(map[string]int64)
	r.apps.byID = make(map[int64]*types.App)
	r.apps.zoneIDs = make(map[int64]map[int64]struct{})
	r.apps.maxID = 0
	r.zones.nameToID = make(map[string]int64)
	r.zones.byID = make(map[int64]*types.Zone)
	r.zones.servletIDs = make(map[int64]map[int64]struct{})
	r.zones.maxID = 0
	r.servlets.nameToID = make(map[string]int64)
	r.servlets.byID = make(map[int64]*types.Servlet)
	r.servlets.maxID = 0
	r.instances.byAddr = make(map[string]*types.Instance)
	r.instances.byApp = make(map[string]map[string]struct{})
	r.instances.byZone = make(map[string]map[string]struct{})
	r.instances.bySvlt = make(map[string]map[string]struct{})
	r.instances.maxID = 0
	r.users.byName = make(map[string]*types.UserPrivilege)
	r.configs.byName = make(map[string]map[string]*types.Config)
	r.configs.maxID = 0
}

func (r *Registry) publish(kind events.Kind, key string) {
	if r.broker != nil {
		r.broker.Publish(kind, key)
	}
}

// LivenessWindow returns the naming staleness cutoff.
func (r *Registry) LivenessWindow() time.Duration {
	return r.livenessWindow
}

// Apply consumes one committed log entry. Decode failures consume the
// entry with PARSE_TO_PB_FAIL; unknown ops with INPUT_PARAM_ERROR. The
// returned *Result is the proposal's completion value.
func (r *Registry) Apply(entry *raft.Log) interface{} {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RaftApplyDuration, rpc.GroupRegistry)

	var req rpc.ManagerRequest
	if err := json.Unmarshal(entry.Data, &req); err != nil {
		r.logger.Warn().Err(err).Msg("undecodable log entry consumed")
		return fail(errcode.ParseToPbFail, "decode request record failed")
	}

	switch req.Op {
	case rpc.OpCreateApp:
		return r.createApp(&req)
	case rpc.OpDropApp:
		return r.dropApp(&req)
	case rpc.OpModifyApp:
		return r.modifyApp(&req)
	case rpc.OpCreateZone:
		return r.createZone(&req)
	case rpc.OpDropZone:
		return r.dropZone(&req)
	case rpc.OpModifyZone:
		return r.modifyZone(&req)
	case rpc.OpCreateServlet:
		return r.createServlet(&req)
	case rpc.OpDropServlet:
		return r.dropServlet(&req)
	case rpc.OpModifyServlet:
		return r.modifyServlet(&req)
	case rpc.OpAddInstance:
		return r.addInstance(&req)
	case rpc.OpDropInstance:
		return r.dropInstance(&req)
	case rpc.OpUpdateInstance:
		return r.updateInstance(&req)
	case rpc.OpCreateUser:
		return r.createUser(&req)
	case rpc.OpDropUser:
		return r.dropUser(&req)
	case rpc.OpAddPrivilege:
		return r.addPrivilege(&req)
	case rpc.OpDropPrivilege:
		return r.dropPrivilege(&req)
	case rpc.OpCreateConfig:
		return r.createConfig(&req)
	case rpc.OpRemoveConfig:
		return r.removeConfig(&req)
	default:
		r.logger.Warn().Str("op", req.Op).Msg("unknown registry op consumed")
		return fail(errcode.InputParamError, "unknown op: "+req.Op)
	}
}

func marshalEntity(v interface{}) ([]byte, *Result) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fail(errcode.ParseToPbFail, "serialize entity failed")
	}
	return data, nil
}

// commit writes the batch; a KV failure is reported as INTERNAL_ERROR
// and, per the divergence policy, logged at error level for the operator.
func (r *Registry) commit(writes []storage.KV, deletes [][]byte) *Result {
	if err := r.store.PutBatch(writes, deletes); err != nil {
		r.logger.Error().Err(err).Msg("kv batch failed; state machine may be diverging")
		return fail(errcode.InternalError, "write db fail")
	}
	return nil
}

// OnLeaderStart implements the leadership hook; the registry has no
// leader-only fibers.
func (r *Registry) OnLeaderStart() {}

// OnLeaderStop implements the leadership hook.
func (r *Registry) OnLeaderStop() {}
