package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keybridge",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Client RPC calls by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keybridge",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Client RPC call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keybridge",
			Subsystem: "router",
			Name:      "dispatches_total",
			Help:      "Companion router dispatches by namespace and outcome.",
		},
		[]string{"namespace", "outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keybridge",
			Subsystem: "router",
			Name:      "dispatch_duration_seconds",
			Help:      "Companion handler duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"namespace", "outcome"},
	)
	cacheReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keybridge",
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Cache-layer reads by serving source and staleness.",
		},
		[]string{"source", "stale"},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keybridge",
			Subsystem: "conn",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts.",
		},
	)
	discardedResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "keybridge",
			Subsystem: "rpc",
			Name:      "discarded_responses_total",
			Help:      "Responses with no matching pending request (late or unknown id).",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			rpcCalls, rpcDuration,
			dispatches, dispatchDuration,
			cacheReads, reconnects, discardedResponses,
		)
	})
}

func RecordRPCCall(method, outcome string, duration time.Duration) {
	RegisterMetrics()
	rpcCalls.WithLabelValues(method, outcome).Inc()
	rpcDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

func RecordDispatch(namespace, outcome string, duration time.Duration) {
	RegisterMetrics()
	dispatches.WithLabelValues(namespace, outcome).Inc()
	dispatchDuration.WithLabelValues(namespace, outcome).Observe(duration.Seconds())
}

func RecordCacheRead(source string, stale bool) {
	RegisterMetrics()
	cacheReads.WithLabelValues(source, strconv.FormatBool(stale)).Inc()
}

func RecordReconnectAttempt() {
	RegisterMetrics()
	reconnects.Inc()
}

func RecordDiscardedResponse() {
	RegisterMetrics()
	discardedResponses.Inc()
}
