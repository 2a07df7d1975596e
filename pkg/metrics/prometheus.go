// Package metrics provides Prometheus metrics for the paddock engines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exposed by the process.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Merge engine
	documentsIngested  *prometheus.CounterVec
	documentsRejected  prometheus.Counter
	documentsDuplicate prometheus.Counter
	fieldsApplied      prometheus.Counter
	fieldsDiscarded    prometheus.Counter
	racesTracked       prometheus.Gauge
	mergeLatency       prometheus.Histogram

	// Snapshots
	snapshotWrites       prometheus.Counter
	snapshotFailures     prometheus.Counter
	snapshotLastUnix     prometheus.Gauge
	snapshotDurationMs   prometheus.Histogram
	snapshotRestoredRace prometheus.Gauge

	// Scoring and alerting
	scoringLatency   prometheus.Histogram
	scoresPublished  prometheus.Counter
	staleRescores    prometheus.Counter
	alertsEmitted    prometheus.Counter
	alertsSuppressed *prometheus.CounterVec
	alertFailures    *prometheus.CounterVec

	// Sources
	fetches        *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec
	monitorCycles  *prometheus.CounterVec
	monitorCycleMs prometheus.Histogram

	// Queue and workers
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueRejected    *prometheus.CounterVec
	workerLatency    prometheus.Histogram
	workerErrors     prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByComponent   *prometheus.CounterVec

	// Ranking repository
	rankingRecords       prometheus.Gauge
	rankingUpdateLatency prometheus.Histogram
	rankingQueryLatency  prometheus.Histogram
	rankingSnapshots     prometheus.Counter
	rankingSnapshotMs    prometheus.Histogram

	// Process
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "paddock",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.documentsIngested = m.counterVec("documents_ingested_total", "Documents merged, by outcome status", "status")
	m.documentsRejected = m.counter("documents_rejected_total", "Malformed documents rejected before merging")
	m.documentsDuplicate = m.counter("documents_duplicate_total", "Submissions dropped as exact duplicates")
	m.fieldsApplied = m.counter("fields_applied_total", "Field observations applied to canonical records")
	m.fieldsDiscarded = m.counter("fields_discarded_total", "Field observations kept only as supporting evidence")
	m.racesTracked = m.gauge("races_tracked", "Races held by the merge engine")
	m.mergeLatency = m.histogram("merge_latency_milliseconds", "Time spent merging one document")

	m.snapshotWrites = m.counter("snapshot_writes_total", "Successful snapshot writes")
	m.snapshotFailures = m.counter("snapshot_failures_total", "Failed snapshot writes, retried on the next trigger")
	m.snapshotLastUnix = m.gauge("snapshot_last_unix", "Unix time of the last successful snapshot write")
	m.snapshotDurationMs = m.histogram("snapshot_duration_milliseconds", "Snapshot write duration")
	m.snapshotRestoredRace = m.gauge("snapshot_restored_races", "Races restored from the snapshot at startup")

	m.scoringLatency = m.histogram("scoring_latency_milliseconds", "Signals plus scoring latency per race")
	m.scoresPublished = m.counter("scores_published_total", "Score results published to the ranking")
	m.staleRescores = m.counter("stale_rescores_total", "Scores recomputed because the record moved during scoring")
	m.alertsEmitted = m.counter("alerts_emitted_total", "Alerts delivered to the notifier")
	m.alertsSuppressed = m.counterVec("alerts_suppressed_total", "Eligible or ineligible evaluations that did not alert", "reason")
	m.alertFailures = m.counterVec("alert_failures_total", "Alert delivery or state persistence failures", "kind")

	m.fetches = m.counterVec("source_fetches_total", "Source fetch attempts by result", "source", "result")
	m.fetchLatency = m.histogramVec("source_fetch_latency_milliseconds", "Source fetch latency", "source")
	m.breakerState = m.gaugeVec("source_breaker_state", "Circuit breaker state per source (0 closed, 1 half-open, 2 open)", "source")
	m.monitorCycles = m.counterVec("monitor_cycles_total", "Mobile monitor cycles by result", "result")
	m.monitorCycleMs = m.histogram("monitor_cycle_duration_milliseconds", "Mobile monitor cycle duration")

	m.queueSize = m.gauge("queue_size", "Current number of queued documents")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Documents enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Documents dequeued")
	m.queueRejected = m.counterVec("queue_rejected_total", "Documents refused by the queue", "reason")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Worker end-to-end latency per document")
	m.workerErrors = m.counter("worker_errors_total", "Worker processing errors")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")
	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.rankingRecords = m.gauge("ranking_records", "Races held by the ranking store")
	m.rankingUpdateLatency = m.histogram("ranking_update_latency_milliseconds", "Ranking update latency")
	m.rankingQueryLatency = m.histogram("ranking_query_latency_milliseconds", "Ranking query latency")
	m.rankingSnapshots = m.counter("ranking_snapshots_total", "Ranking read snapshots published")
	m.rankingSnapshotMs = m.histogram("ranking_snapshot_duration_milliseconds", "Ranking read snapshot rebuild duration")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordDocumentIngested counts a merged document by outcome status.
func RecordDocumentIngested(status string) {
	globalManager.documentsIngested.WithLabelValues(status).Inc()
}

// RecordDocumentRejected counts a malformed document.
func RecordDocumentRejected() { globalManager.documentsRejected.Inc() }

// RecordDocumentDuplicate counts a duplicate submission.
func RecordDocumentDuplicate() { globalManager.documentsDuplicate.Inc() }

// RecordFieldsMerged adds applied and discarded field counts.
func RecordFieldsMerged(applied, discarded int) {
	globalManager.fieldsApplied.Add(float64(applied))
	globalManager.fieldsDiscarded.Add(float64(discarded))
}

// UpdateRacesTracked sets the number of races held by the merge engine.
func UpdateRacesTracked(n int) { globalManager.racesTracked.Set(float64(n)) }

// RecordMergeLatency records a merge duration in milliseconds.
func RecordMergeLatency(ms float64) { globalManager.mergeLatency.Observe(ms) }

// RecordSnapshotWrite records a successful snapshot write.
func RecordSnapshotWrite(ms float64) {
	globalManager.snapshotWrites.Inc()
	globalManager.snapshotDurationMs.Observe(ms)
	globalManager.snapshotLastUnix.Set(float64(time.Now().Unix()))
}

// RecordSnapshotFailure records a failed snapshot write.
func RecordSnapshotFailure() { globalManager.snapshotFailures.Inc() }

// UpdateSnapshotRestored sets how many races were restored at startup.
func UpdateSnapshotRestored(n int) { globalManager.snapshotRestoredRace.Set(float64(n)) }

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(ms float64) { globalManager.scoringLatency.Observe(ms) }

// RecordScorePublished counts a score accepted by the ranking.
func RecordScorePublished() { globalManager.scoresPublished.Inc() }

// RecordStaleRescore counts a recompute triggered by a moved revision.
func RecordStaleRescore() { globalManager.staleRescores.Inc() }

// RecordAlertEmitted counts a delivered alert.
func RecordAlertEmitted() { globalManager.alertsEmitted.Inc() }

// RecordAlertSuppressed counts an evaluation that did not alert.
func RecordAlertSuppressed(reason string) {
	globalManager.alertsSuppressed.WithLabelValues(reason).Inc()
}

// RecordAlertFailure counts a notify or persistence failure.
func RecordAlertFailure(kind string) { globalManager.alertFailures.WithLabelValues(kind).Inc() }

// RecordFetch counts a source fetch and its latency.
func RecordFetch(source, result string, ms float64) {
	globalManager.fetches.WithLabelValues(source, result).Inc()
	globalManager.fetchLatency.WithLabelValues(source).Observe(ms)
}

// UpdateBreakerState sets the circuit breaker state for a source.
func UpdateBreakerState(source string, state int) {
	globalManager.breakerState.WithLabelValues(source).Set(float64(state))
}

// RecordMonitorCycle counts a monitor cycle and its duration.
func RecordMonitorCycle(result string, ms float64) {
	globalManager.monitorCycles.WithLabelValues(result).Inc()
	globalManager.monitorCycleMs.Observe(ms)
}

// UpdateQueueSize sets the current queue size and utilization.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueRejected counts a refused enqueue.
func RecordQueueRejected(reason string) { globalManager.queueRejected.WithLabelValues(reason).Inc() }

// RecordWorkerProcessingLatency records worker latency in milliseconds.
func RecordWorkerProcessingLatency(ms float64) { globalManager.workerLatency.Observe(ms) }

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, ms float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateRankingRecords sets the number of ranked races.
func UpdateRankingRecords(n int) { globalManager.rankingRecords.Set(float64(n)) }

// RecordRankingUpdateLatency records ranking update latency.
func RecordRankingUpdateLatency(ms float64) { globalManager.rankingUpdateLatency.Observe(ms) }

// RecordRankingQueryLatency records ranking query latency.
func RecordRankingQueryLatency(ms float64) { globalManager.rankingQueryLatency.Observe(ms) }

// RecordRankingSnapshot records a published ranking read snapshot.
func RecordRankingSnapshot(ms float64) {
	globalManager.rankingSnapshots.Inc()
	globalManager.rankingSnapshotMs.Observe(ms)
}

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
