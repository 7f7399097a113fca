// Package metrics provides Prometheus metrics for the audition matching service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Announcement delays span milliseconds to tens of minutes.
var delayBuckets = []float64{0, 100, 500, 1_000, 5_000, 15_000, 60_000, 300_000, 900_000, 1_800_000} //nolint:gochecknoglobals // bucket layout

// Manager owns every Prometheus collector for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Matching
	decisions           *prometheus.CounterVec
	decisionErrors      *prometheus.CounterVec
	resolutions         *prometheus.CounterVec
	announcementsSched  prometheus.Counter
	announcementsApply  prometheus.Counter
	announcementsSkip   *prometheus.CounterVec
	announcementDelay   prometheus.Histogram
	announcementsRescue prometheus.Counter
	submissions         prometheus.Counter
	roundResets         prometheus.Counter

	// Round state
	compersTotal   prometheus.Gauge
	compersMatched prometheus.Gauge
	feedEntries    prometheus.Gauge

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Queue and scheduler
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec
	schedulerPending   prometheus.Gauge

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	workerDuplicates        prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "acamafia",
		subsystem:        "matching",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.decisions = m.counterVec("decisions_total", "Group decisions recorded, by decision", "decision")
	m.decisionErrors = m.counterVec("decision_errors_total", "Rejected decision attempts, by reason", "reason")
	m.resolutions = m.counterVec("resolutions_total", "Compers whose outcome became fully determined, by outcome", "outcome")
	m.announcementsSched = m.counter("announcements_scheduled_total", "Announcements handed to the scheduler")
	m.announcementsApply = m.counter("announcements_applied_total", "Announcements that marked a comper matched and appended a feed entry")
	m.announcementsSkip = m.counterVec("announcements_skipped_total", "Announcement deliveries that were no-ops, by reason", "reason")
	m.announcementDelay = m.histogram("announcement_delay_milliseconds", "Randomized delay chosen for each announcement", delayBuckets)
	m.announcementsRescue = m.counter("announcements_recovered_total", "Overdue announcements rescheduled by the recovery sweep")
	m.submissions = m.counter("submissions_total", "Preference submissions accepted")
	m.roundResets = m.counter("round_resets_total", "Bulk round resets")

	m.compersTotal = m.gauge("compers", "Compers with a submitted ranking")
	m.compersMatched = m.gauge("compers_matched", "Compers whose outcome has been announced")
	m.feedEntries = m.gauge("feed_entries", "Entries in the update feed")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency in milliseconds", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Store operation failures", "op")

	m.queueSize = m.gauge("queue_size", "Announcement jobs waiting for a worker")
	m.queueCapacity = m.gauge("queue_capacity", "Announcement queue capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Announcement jobs enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Announcement jobs dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Failed enqueues, by reason", "reason")
	m.schedulerPending = m.gauge("scheduler_pending", "Announcements scheduled but not yet due")

	m.workerCount = m.gauge("worker_count", "Announcement workers running")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Time to apply one announcement", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Announcements that failed to apply")
	m.workerDuplicates = m.counter("worker_duplicate_deliveries_total", "Redelivered jobs dropped before touching the store")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Goroutines running")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds", m.histogramBuckets)
}

// RecordDecision counts an accepted or rejected group decision.
func RecordDecision(accept bool) {
	label := "reject"
	if accept {
		label = "accept"
	}
	globalManager.decisions.WithLabelValues(label).Inc()
}

// RecordDecisionError counts a decision that failed a precondition.
func RecordDecisionError(reason string) {
	globalManager.decisionErrors.WithLabelValues(reason).Inc()
}

// RecordResolution counts a comper whose outcome became determined.
func RecordResolution(matched bool) {
	label := "no_match"
	if matched {
		label = "matched"
	}
	globalManager.resolutions.WithLabelValues(label).Inc()
}

// RecordAnnouncementScheduled counts a scheduled announcement and its delay.
func RecordAnnouncementScheduled(delayMs float64) {
	globalManager.announcementsSched.Inc()
	globalManager.announcementDelay.Observe(delayMs)
}

// RecordAnnouncementApplied counts an announcement that took effect.
func RecordAnnouncementApplied() { globalManager.announcementsApply.Inc() }

// RecordAnnouncementSkipped counts a no-op announcement delivery.
func RecordAnnouncementSkipped(reason string) {
	globalManager.announcementsSkip.WithLabelValues(reason).Inc()
}

// RecordAnnouncementRecovered counts a rescheduled overdue announcement.
func RecordAnnouncementRecovered() { globalManager.announcementsRescue.Inc() }

// RecordSubmission counts an accepted preference submission.
func RecordSubmission() { globalManager.submissions.Inc() }

// RecordRoundReset counts a bulk reset.
func RecordRoundReset() { globalManager.roundResets.Inc() }

// UpdateRoundState publishes comper and feed totals.
func UpdateRoundState(compers, matched, feed int) {
	globalManager.compersTotal.Set(float64(compers))
	globalManager.compersMatched.Set(float64(matched))
	globalManager.feedEntries.Set(float64(feed))
}

// RecordStoreLatency observes the latency of one store operation.
func RecordStoreLatency(op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) {
	globalManager.storeErrors.WithLabelValues(op).Inc()
}

// UpdateQueueSize sets the current queue backlog.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an enqueued job.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a dequeued job.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a failed enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateSchedulerPending sets the number of not-yet-due announcements.
func UpdateSchedulerPending(n int) { globalManager.schedulerPending.Set(float64(n)) }

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency observes the time to apply one job.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a job that failed to apply.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordWorkerDuplicate counts a redelivered job dropped by the worker.
func RecordWorkerDuplicate() { globalManager.workerDuplicates.Inc() }

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes an HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime observes the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry the global manager writes to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
