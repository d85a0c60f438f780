// -----------------------------------------------------------------------
// Prometheus collectors for the /metrics endpoint. Counters are
// package-level so call sites increment them without plumbing.
// -----------------------------------------------------------------------

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker state gauge values.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

var (
	// IngestArticlesSaved counts articles persisted per source.
	IngestArticlesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuntius_ingest_articles_saved_total",
		Help: "Articles persisted by the RSS ingestor.",
	}, []string{"source"})

	// IngestArticlesSkipped counts articles dropped per source, by reason
	// (duplicate, invalid).
	IngestArticlesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuntius_ingest_articles_skipped_total",
		Help: "Articles skipped by the RSS ingestor.",
	}, []string{"source", "reason"})

	// IngestSourceErrors counts failed feed fetches per source.
	IngestSourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuntius_ingest_source_errors_total",
		Help: "Feed fetches that failed.",
	}, []string{"source"})

	// MLCalls counts remote ML service calls by operation and outcome
	// (ok, error, rejected).
	MLCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuntius_ml_calls_total",
		Help: "Remote ML service calls.",
	}, []string{"op", "outcome"})

	// MLBreakerState reports the ML circuit breaker state
	// (0 closed, 1 half-open, 2 open).
	MLBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nuntius_ml_breaker_state",
		Help: "Circuit breaker state for the ML service (0 closed, 1 half-open, 2 open).",
	})

	// MLCacheRequests counts enrichment cache lookups by operation and
	// outcome (hit, miss).
	MLCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuntius_ml_cache_requests_total",
		Help: "Enrichment cache lookups.",
	}, []string{"op", "outcome"})

	// TelemetryEventsFlushed counts impression/click events written to
	// storage by the telemetry sink.
	TelemetryEventsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuntius_telemetry_events_flushed_total",
		Help: "Telemetry events flushed to storage.",
	}, []string{"kind"})

	// BanditDecisions counts bandit serving decisions by arm and
	// selection reason.
	BanditDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nuntius_bandit_decisions_total",
		Help: "Bandit serving decisions.",
	}, []string{"arm", "reason"})
)
