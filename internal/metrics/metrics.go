// Package metrics registers the Prometheus instrumentation for the tiered
// fetch read path, in the promauto.With(reg) style improbable-eng's
// CachingBucket uses for its own bucket-cache counters.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge/histogram the core emits.
type Metrics struct {
	cacheAccessTotal prometheus.Counter
	cacheHitTotal    prometheus.Counter

	readAheadFactor *prometheus.GaugeVec

	inflightCoalescedTotal prometheus.Counter
	inflightActive         prometheus.Gauge

	backendFetchDuration *prometheus.HistogramVec
	backendFetchBytes    prometheus.Counter

	prefetchTriggeredTotal prometheus.Counter
	cacheEvictedTotal      prometheus.Counter
}

// New registers every metric against reg and returns a Metrics. reg may be
// nil, in which case the metrics are created but not registered with any
// registry, matching promauto.With's own nil handling.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	return &Metrics{
		cacheAccessTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_access_total",
			Help:      "Total number of message lookups attempted against the cache.",
		}),
		cacheHitTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hit_total",
			Help:      "Total number of message lookups satisfied from the cache.",
		}),
		readAheadFactor: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "read_ahead_factor",
			Help:      "Current read-ahead multiplier for a queue.",
		}, []string{"topic", "broker", "queue"}),
		inflightCoalescedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inflight_coalesced_total",
			Help:      "Total number of requests that waited on an already in-flight fetch instead of issuing their own.",
		}),
		inflightActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_active",
			Help:      "Number of in-flight backend fetch ranges currently outstanding.",
		}),
		backendFetchDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_fetch_duration_seconds",
			Help:      "Latency of a single backend fetch call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		backendFetchBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_fetch_bytes_total",
			Help:      "Total bytes read from the tiered backend.",
		}),
		prefetchTriggeredTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_triggered_total",
			Help:      "Total number of times PrefetchEngine issued a batch of backend fetches.",
		}),
		cacheEvictedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evicted_total",
			Help:      "Total number of cache entries invalidated once every active group had consumed them.",
		}),
	}
}

// RecordCacheAccess records one probeCache call against maxCount candidate
// offsets, of which hits were actually present.
func (m *Metrics) RecordCacheAccess(maxCount, hits int) {
	if m == nil {
		return
	}
	m.cacheAccessTotal.Add(float64(maxCount))
	m.cacheHitTotal.Add(float64(hits))
}

// SetReadAheadFactor records the current read-ahead multiplier for a queue.
func (m *Metrics) SetReadAheadFactor(topic, broker string, queueID int32, factor int) {
	if m == nil {
		return
	}
	m.readAheadFactor.WithLabelValues(topic, broker, strconv.Itoa(int(queueID))).Set(float64(factor))
}

// RecordInflightCoalesced records a request that waited on an existing
// in-flight fetch rather than issuing its own.
func (m *Metrics) RecordInflightCoalesced() {
	if m == nil {
		return
	}
	m.inflightCoalescedTotal.Inc()
}

// InflightActiveInc/Dec track the number of outstanding in-flight ranges.
func (m *Metrics) InflightActiveInc() {
	if m == nil {
		return
	}
	m.inflightActive.Inc()
}

func (m *Metrics) InflightActiveDec() {
	if m == nil {
		return
	}
	m.inflightActive.Dec()
}

// RecordBackendFetch records the outcome and byte size of one backend fetch.
func (m *Metrics) RecordBackendFetch(op, status string, seconds float64, bytes int) {
	if m == nil {
		return
	}
	m.backendFetchDuration.WithLabelValues(op, status).Observe(seconds)
	m.backendFetchBytes.Add(float64(bytes))
}

// RecordPrefetchTriggered records one PrefetchEngine.Trigger call that
// actually issued backend fetches.
func (m *Metrics) RecordPrefetchTriggered() {
	if m == nil {
		return
	}
	m.prefetchTriggeredTotal.Inc()
}

// RecordCacheEvicted records one cache entry invalidated because every
// active group had consumed it.
func (m *Metrics) RecordCacheEvicted() {
	if m == nil {
		return
	}
	m.cacheEvictedTotal.Inc()
}
