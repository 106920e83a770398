package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	rpcTotal    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	eventsTotal     *prometheus.CounterVec
	seqGapsTotal    prometheus.Counter
	reconnectsTotal prometheus.Counter

	runsFinalizedTotal *prometheus.CounterVec
	activeToolCalls    prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			rpcTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_rpc_total",
					Help: "Total gateway RPC calls by method and status.",
				},
				[]string{"method", "status"},
			),
			rpcDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "gateway_rpc_duration_seconds",
					Help:    "Gateway RPC round-trip duration in seconds by method.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method"},
			),
			eventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_events_total",
					Help: "Total gateway events received by channel.",
				},
				[]string{"channel"},
			),
			seqGapsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "gateway_seq_gaps_total",
					Help: "Total observed sequence-number gaps on the event stream.",
				},
			),
			reconnectsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "gateway_reconnects_total",
					Help: "Total reconnect attempts on the persistent connection.",
				},
			),
			runsFinalizedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "runs_finalized_total",
					Help: "Total finalized runs by finalizing trigger.",
				},
				[]string{"trigger"},
			),
			activeToolCalls: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_tool_calls",
					Help: "Tool calls currently tracked for in-flight runs.",
				},
			),
		}

		prometheus.MustRegister(
			m.rpcTotal,
			m.rpcDuration,
			m.eventsTotal,
			m.seqGapsTotal,
			m.reconnectsTotal,
			m.runsFinalizedTotal,
			m.activeToolCalls,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordRPC(method string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.rpcTotal.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RecordEvent(channel string) {
	getMetrics().eventsTotal.WithLabelValues(channel).Inc()
}

func RecordSeqGap() {
	getMetrics().seqGapsTotal.Inc()
}

func RecordReconnect() {
	getMetrics().reconnectsTotal.Inc()
}

func RecordRunFinalized(trigger string) {
	getMetrics().runsFinalizedTotal.WithLabelValues(trigger).Inc()
}

func SetActiveToolCalls(count int) {
	getMetrics().activeToolCalls.Set(float64(count))
}
