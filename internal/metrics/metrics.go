package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Sync Coordinator metrics
	BlocksSynced     prometheus.Counter
	LogsFetched      *prometheus.CounterVec
	RowsWritten      *prometheus.CounterVec
	SyncBatchSize    prometheus.Gauge
	SyncLag          prometheus.Gauge
	FetchLatency     prometheus.Histogram
	WriteLatency     prometheus.Histogram
	RPCErrorsTotal   prometheus.Counter
	RPCBytesReceived prometheus.Counter

	// Replay Engine metrics
	ReplayPhaseLatency *prometheus.HistogramVec
	ReplayUsersTotal   prometheus.Gauge
	ReplayEventsTotal  prometheus.Gauge
	ReplayRuns         prometheus.Counter

	// Query Server metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		BlocksSynced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "polyindex_blocks_synced_total",
				Help: "Total number of blocks processed by the sync coordinator",
			},
		),
		LogsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyindex_logs_fetched_total",
				Help: "Total number of raw logs fetched by topic group",
			},
			[]string{"topic_group"},
		),
		RowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyindex_rows_written_total",
				Help: "Total number of rows written by table",
			},
			[]string{"table"},
		),
		SyncBatchSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "polyindex_sync_batch_size",
				Help: "Current adaptive batch size in blocks",
			},
		),
		SyncLag: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "polyindex_sync_lag_blocks",
				Help: "Blocks between chain head and last indexed block",
			},
		),
		FetchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "polyindex_fetch_latency_seconds",
				Help:    "Latency of a single eth_getLogs batch call",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
		),
		WriteLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "polyindex_write_latency_seconds",
				Help:    "Latency of a single atomic multi-table insert",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
			},
		),
		RPCErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "polyindex_rpc_errors_total",
				Help: "Total number of RPC call failures (transport or protocol)",
			},
		),
		RPCBytesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "polyindex_rpc_bytes_received_total",
				Help: "Total bytes received from RPC responses",
			},
		),
		ReplayPhaseLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polyindex_replay_phase_latency_seconds",
				Help:    "Latency of each replay engine phase",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
			},
			[]string{"phase"},
		),
		ReplayUsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "polyindex_replay_users",
				Help: "Number of distinct users in the last replay run",
			},
		),
		ReplayEventsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "polyindex_replay_events",
				Help: "Number of events processed in the last replay run",
			},
		),
		ReplayRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "polyindex_replay_runs_total",
				Help: "Total number of completed replay engine runs",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyindex_http_requests_total",
				Help: "Total HTTP requests by route and status class",
			},
			[]string{"route", "status"},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polyindex_http_latency_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"route"},
		),
	}

	prometheus.MustRegister(
		m.BlocksSynced,
		m.LogsFetched,
		m.RowsWritten,
		m.SyncBatchSize,
		m.SyncLag,
		m.FetchLatency,
		m.WriteLatency,
		m.RPCErrorsTotal,
		m.RPCBytesReceived,
		m.ReplayPhaseLatency,
		m.ReplayUsersTotal,
		m.ReplayEventsTotal,
		m.ReplayRuns,
		m.HTTPRequests,
		m.HTTPLatency,
	)

	return m
}

// Handler returns the Prometheus exposition handler, mounted by the Query
// Server at /metrics rather than on a dedicated port.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBlocksSynced increments the synced-block counter.
func (m *Metrics) RecordBlocksSynced(n uint64) {
	m.BlocksSynced.Add(float64(n))
}

// RecordLogsFetched increments the fetched-logs counter for a topic group.
func (m *Metrics) RecordLogsFetched(topicGroup string, n int) {
	m.LogsFetched.WithLabelValues(topicGroup).Add(float64(n))
}

// RecordRowsWritten increments the written-rows counter for a table.
func (m *Metrics) RecordRowsWritten(table string, n int) {
	m.RowsWritten.WithLabelValues(table).Add(float64(n))
}

// SetSyncBatchSize records the coordinator's current adaptive batch size.
func (m *Metrics) SetSyncBatchSize(n int) {
	m.SyncBatchSize.Set(float64(n))
}

// SetSyncLag records the gap between chain head and the last indexed block.
func (m *Metrics) SetSyncLag(blocks uint64) {
	m.SyncLag.Set(float64(blocks))
}

// RecordFetchLatency records the duration of an eth_getLogs batch call.
func (m *Metrics) RecordFetchLatency(d time.Duration) {
	m.FetchLatency.Observe(d.Seconds())
}

// RecordWriteLatency records the duration of an atomic multi-table insert.
func (m *Metrics) RecordWriteLatency(d time.Duration) {
	m.WriteLatency.Observe(d.Seconds())
}

// RecordRPCError increments the RPC error counter.
func (m *Metrics) RecordRPCError() {
	m.RPCErrorsTotal.Inc()
}

// RecordRPCBytesReceived adds to the total RPC response bytes received.
func (m *Metrics) RecordRPCBytesReceived(n int64) {
	m.RPCBytesReceived.Add(float64(n))
}

// RecordReplayPhaseLatency records the duration of one replay engine phase.
func (m *Metrics) RecordReplayPhaseLatency(phase string, d time.Duration) {
	m.ReplayPhaseLatency.WithLabelValues(phase).Observe(d.Seconds())
}

// SetReplayStats records the size of the last completed replay run.
func (m *Metrics) SetReplayStats(users, events int) {
	m.ReplayUsersTotal.Set(float64(users))
	m.ReplayEventsTotal.Set(float64(events))
}

// RecordReplayRun increments the completed-replay-runs counter.
func (m *Metrics) RecordReplayRun() {
	m.ReplayRuns.Inc()
}

// RecordHTTPRequest records an HTTP request's route, status class, and latency.
func (m *Metrics) RecordHTTPRequest(route, statusClass string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, statusClass).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
}
