package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry gauges
	AppsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_apps_total",
			Help: "Total number of registered apps",
		},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_instances_total",
			Help: "Total number of registered instances by status",
		},
		[]string{"status"},
	)

	ConfigsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_configs_total",
			Help: "Total number of stored config versions",
		},
	)

	// Raft metrics, one series per replication group
	RaftLeader = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_raft_is_leader",
			Help: "Whether this node leads the group (1 = leader, 0 = follower)",
		},
		[]string{"group"},
	)

	RaftAppliedIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_raft_applied_index",
			Help: "Last applied raft log index per group",
		},
		[]string{"group"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_api_requests_total",
			Help: "Total number of API requests by method and errcode",
		},
		[]string{"method", "errcode"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Raft operation metrics
	RaftApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_raft_apply_duration_seconds",
			Help:    "Time taken to apply a raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group"},
	)

	RaftCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_raft_commit_duration_seconds",
			Help:    "Time taken to commit a proposed raft entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group"},
	)

	// TSO metrics
	TsoAllocationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_tso_allocations_total",
			Help: "Total number of timestamps handed out",
		},
	)

	TsoRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_tso_retries_total",
			Help: "Total number of RETRY_LATER responses from the oracle",
		},
	)

	// Router metrics
	RouterForwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_router_forwards_total",
			Help: "Total number of forwarded requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(AppsTotal)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(ConfigsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(TsoAllocationsTotal)
	prometheus.MustRegister(TsoRetriesTotal)
	prometheus.MustRegister(RouterForwardsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
