// Package metrics holds the Prometheus collectors for the mini-app client.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "miniapp"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	reads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "reads_total",
			Help:      "Ledger reads by the source that produced the value.",
		},
		[]string{"source"},
	)

	readRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "retries_total",
			Help:      "Retried ledger read attempts per endpoint.",
		},
		[]string{"endpoint"},
	)

	readFailovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "failovers_total",
			Help:      "Reads that moved from the primary to the secondary endpoint.",
		},
	)

	pollAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "poll_attempts_total",
			Help:      "Fulfillment polls issued.",
		},
		[]string{"game"},
	)

	reconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "outcomes_total",
			Help:      "Terminal request outcomes.",
		},
		[]string{"game", "outcome"},
	)

	fulfillmentLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "fulfillment_seconds",
			Help:      "Time from receipt to applied fulfillment.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		},
		[]string{"game"},
	)

	indexerQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "queries_total",
			Help:      "Subgraph queries by kind and result.",
		},
		[]string{"kind", "result"},
	)

	statsSource = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stats",
			Name:      "source_total",
			Help:      "Stats snapshots by the source that produced them.",
		},
		[]string{"source"},
	)

	identityLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "lookups_total",
			Help:      "Identity lookups per address by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		reads,
		readRetries,
		readFailovers,
		pollAttempts,
		reconcileOutcomes,
		fulfillmentLatency,
		indexerQueries,
		statsSource,
		identityLookups,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func RecordRead(source string)        { reads.WithLabelValues(source).Inc() }
func RecordReadRetry(endpoint string) { readRetries.WithLabelValues(endpoint).Inc() }
func RecordFailover()                 { readFailovers.Inc() }
func RecordPoll(game string)          { pollAttempts.WithLabelValues(game).Inc() }
func RecordStatsSource(source string) { statsSource.WithLabelValues(source).Inc() }

// RecordOutcome records a terminal request outcome. latency is ignored
// unless the outcome is "fulfilled".
func RecordOutcome(game, outcome string, latency time.Duration) {
	reconcileOutcomes.WithLabelValues(game, outcome).Inc()
	if outcome == "fulfilled" && latency > 0 {
		fulfillmentLatency.WithLabelValues(game).Observe(latency.Seconds())
	}
}

// RecordIdentityLookups adds n per-address identity lookups with result.
func RecordIdentityLookups(result string, n int) {
	if n > 0 {
		identityLookups.WithLabelValues(result).Add(float64(n))
	}
}

// RecordIndexerQuery records one subgraph query.
func RecordIndexerQuery(kind string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	indexerQueries.WithLabelValues(kind, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" || len(parts) < 2 {
		return "/" + parts[0]
	}
	switch parts[1] {
	case "identity":
		if len(parts) > 2 {
			return "/api/identity/:address"
		}
		return "/api/identity"
	case "stats":
		return "/api/stats/:game/:account"
	}
	return "/api/" + parts[1]
}
