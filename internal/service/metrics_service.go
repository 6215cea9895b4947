package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-adp-assistant/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec
	llmDuration     *prometheus.HistogramVec
	llmCalls        *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	turnsTotal      *prometheus.CounterVec
	sessionsGauge   prometheus.Gauge

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	llmCallCount         uint64
	llmFailureCount      uint64
	turnCount            uint64
	activeSessions       int64

	mu            sync.Mutex
	turnsByStatus map[string]uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_cache_latency_seconds",
		Help:    "Latency for session snapshot lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_cache_write_seconds",
		Help:    "Latency for session snapshot writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_cache_hits_total",
		Help: "Sessions restored from a snapshot",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_cache_misses_total",
		Help: "Snapshot lookups that found nothing",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of compiled action queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	llmDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_call_duration_seconds",
		Help:    "Duration of language model calls",
		Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
	}, []string{"tier"})

	llmCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_calls_total",
		Help: "Language model calls by tier and outcome",
	}, []string{"tier", "outcome"})

	turnDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_turn_duration_seconds",
		Help:    "End-to-end duration of chat turns",
		Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
	}, []string{"category"})

	turnsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_turns_total",
		Help: "Chat turns by category and status",
	}, []string{"category", "status"})

	sessionsGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_sessions",
		Help: "Sessions currently held in memory",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		dbQueryDuration, llmDuration, llmCalls, turnDuration, turnsTotal, sessionsGauge, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
		llmDuration:     llmDuration,
		llmCalls:        llmCalls,
		turnDuration:    turnDuration,
		turnsTotal:      turnsTotal,
		sessionsGauge:   sessionsGauge,
		turnsByStatus:   make(map[string]uint64),
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records snapshot lookup hits and misses.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheMisses.Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// ObserveCacheWrite tracks the duration for snapshot writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records query timing per action.
func (m *MetricsService) ObserveDBQuery(action string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(action).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveLLMCall implements llm.Observer.
func (m *MetricsService) ObserveLLMCall(tier string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
		atomic.AddUint64(&m.llmFailureCount, 1)
	}
	m.llmDuration.WithLabelValues(tier).Observe(duration.Seconds())
	m.llmCalls.WithLabelValues(tier, outcome).Inc()
	atomic.AddUint64(&m.llmCallCount, 1)
}

// RecordTurn counts a finished chat turn.
func (m *MetricsService) RecordTurn(category models.Category, status models.TurnStatus, duration time.Duration) {
	if m == nil {
		return
	}
	label := string(category)
	if label == "" {
		label = "none"
	}
	m.turnDuration.WithLabelValues(label).Observe(duration.Seconds())
	m.turnsTotal.WithLabelValues(label, string(status)).Inc()
	atomic.AddUint64(&m.turnCount, 1)
	m.mu.Lock()
	m.turnsByStatus[string(status)]++
	m.mu.Unlock()
}

// SetActiveSessions publishes the in-memory session count.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsGauge.Set(float64(n))
	atomic.StoreInt64(&m.activeSessions, int64(n))
}

// Snapshot returns aggregated metrics suitable for the metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	m.mu.Lock()
	byStatus := make(map[string]uint64, len(m.turnsByStatus))
	for k, v := range m.turnsByStatus {
		byStatus[k] = v
	}
	m.mu.Unlock()

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		LLMCalls:                 atomic.LoadUint64(&m.llmCallCount),
		LLMFailures:              atomic.LoadUint64(&m.llmFailureCount),
		TurnsTotal:               atomic.LoadUint64(&m.turnCount),
		TurnsByStatus:            byStatus,
		ActiveSessions:           int(atomic.LoadInt64(&m.activeSessions)),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
