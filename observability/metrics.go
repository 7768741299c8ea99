package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// SettlementMetrics tracks the clearing engine's round activity.
type SettlementMetrics struct {
	rounds    *prometheus.CounterVec
	transfers prometheus.Counter
	deficits  *prometheus.CounterVec
	writeOffs *prometheus.CounterVec
	completed prometheus.Counter
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	settlementOnce sync.Once
	settlementReg  *SettlementMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// handler activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "comclear",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "comclear",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "comclear",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "comclear",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC request. The status code should be the
// HTTP status ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied reason.
// Reasons should be stable strings such as "rate_limit" so dashboards stay
// consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "comclear",
				Subsystem: "settlement",
				Name:      "rounds_total",
				Help:      "Settlement rounds executed segmented by outcome.",
			}, []string{"outcome"}),
			transfers: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "comclear",
				Subsystem: "settlement",
				Name:      "transfers_total",
				Help:      "Collateral transfers applied during settlement.",
			}),
			deficits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "comclear",
				Subsystem: "settlement",
				Name:      "deficits_total",
				Help:      "Deficits raised segmented by kind.",
			}, []string{"kind"}),
			writeOffs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "comclear",
				Subsystem: "settlement",
				Name:      "write_offs_total",
				Help:      "Expired deficits written off segmented by kind.",
			}, []string{"kind"}),
			completed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "comclear",
				Subsystem: "settlement",
				Name:      "swaps_completed_total",
				Help:      "Swaps that reached final settlement.",
			}),
		}
		prometheus.MustRegister(
			settlementReg.rounds,
			settlementReg.transfers,
			settlementReg.deficits,
			settlementReg.writeOffs,
			settlementReg.completed,
		)
	})
	return settlementReg
}

// RecordRound tallies an executed settlement round.
func (m *SettlementMetrics) RecordRound(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.rounds.WithLabelValues(outcome).Inc()
}

// RecordTransfer tallies a collateral transfer.
func (m *SettlementMetrics) RecordTransfer() {
	if m == nil {
		return
	}
	m.transfers.Inc()
}

// RecordDeficit tallies a raised deficit.
func (m *SettlementMetrics) RecordDeficit(kind string) {
	if m == nil {
		return
	}
	m.deficits.WithLabelValues(kind).Inc()
}

// RecordWriteOff tallies an expired deficit written off at settlement.
func (m *SettlementMetrics) RecordWriteOff(kind string) {
	if m == nil {
		return
	}
	m.writeOffs.WithLabelValues(kind).Inc()
}

// RecordCompleted tallies a finalized swap.
func (m *SettlementMetrics) RecordCompleted() {
	if m == nil {
		return
	}
	m.completed.Inc()
}
