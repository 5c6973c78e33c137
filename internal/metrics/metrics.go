// ============================================================================
// Claim Engine Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose claim engine metrics for Prometheus.
//
// Metric families:
//
//   1. Counters:
//      - claims_generated_total{kind}             genesis / build_upon
//      - claim_generation_failures_total{reason}  store / executor / availability / return_code
//      - claim_verifications_total{check,outcome} computation|da x accept|reject|error
//      - availability_probes_total{mode,outcome}  full|liveness x ok|error
//      - availability_cache_hits_total
//      - executions_total{outcome}
//      - merkle_cache_write_failures_total
//
//   2. Histograms:
//      - availability_probe_seconds
//      - execution_seconds
//
//   3. Gauges:
//      - verifications_in_flight
//
// Useful queries:
//
//   # rejected claims per minute
//   rate(claimengine_claim_verifications_total{outcome="reject"}[1m])
//
//   # share of probes answered from the pass cache
//   rate(claimengine_availability_cache_hits_total[5m])
//     / rate(claimengine_availability_probes_total{mode="full"}[5m])
//
// "reject" and "error" are kept apart on purpose: a reject is the protocol
// working, an error means we could not verify at all.
//
// All record methods are safe on a nil *Collector so components can run
// without instrumentation.
//
// ============================================================================

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "claimengine"

// Outcome labels.
const (
	OutcomeAccept = "accept"
	OutcomeReject = "reject"
	OutcomeError  = "error"
	OutcomeOK     = "ok"
)

// Collector holds the engine's Prometheus metrics.
type Collector struct {
	claimsGenerated    *prometheus.CounterVec
	generationFailures *prometheus.CounterVec
	verifications      *prometheus.CounterVec
	probes             *prometheus.CounterVec
	probeCacheHits     prometheus.Counter
	executions         *prometheus.CounterVec
	cacheWriteFailures prometheus.Counter

	probeLatency     prometheus.Histogram
	executionLatency prometheus.Histogram

	verificationsInFlight prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		claimsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_generated_total",
			Help:      "Total number of claims generated",
		}, []string{"kind"}),
		generationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_generation_failures_total",
			Help:      "Total number of aborted claim generations",
		}, []string{"reason"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_verifications_total",
			Help:      "Total number of claim verifications by check and outcome",
		}, []string{"check", "outcome"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_probes_total",
			Help:      "Total number of availability probes issued",
		}, []string{"mode", "outcome"}),
		probeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_cache_hits_total",
			Help:      "Total number of probes answered from the pass cache",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of executor invocations",
		}, []string{"outcome"}),
		cacheWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merkle_cache_write_failures_total",
			Help:      "Total number of failed Merkle-root cache writes",
		}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "availability_probe_seconds",
			Help:      "Availability probe latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		executionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Executor latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		verificationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "verifications_in_flight",
			Help:      "Current number of verifications running",
		}),
	}

	reg.MustRegister(
		c.claimsGenerated,
		c.generationFailures,
		c.verifications,
		c.probes,
		c.probeCacheHits,
		c.executions,
		c.cacheWriteFailures,
		c.probeLatency,
		c.executionLatency,
		c.verificationsInFlight,
	)
	return c
}

// RecordClaimGenerated counts a successfully assembled claim.
func (c *Collector) RecordClaimGenerated(kind string) {
	if c == nil {
		return
	}
	c.claimsGenerated.WithLabelValues(kind).Inc()
}

// RecordGenerationFailure counts an aborted generation.
func (c *Collector) RecordGenerationFailure(reason string) {
	if c == nil {
		return
	}
	c.generationFailures.WithLabelValues(reason).Inc()
}

// RecordVerification counts one verification outcome.
func (c *Collector) RecordVerification(check, outcome string) {
	if c == nil {
		return
	}
	c.verifications.WithLabelValues(check, outcome).Inc()
}

// RecordProbe counts a probe and observes its latency.
func (c *Collector) RecordProbe(mode string, seconds float64, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.probes.WithLabelValues(mode, outcome).Inc()
	c.probeLatency.Observe(seconds)
}

// RecordProbeCacheHit counts a probe served from the pass cache.
func (c *Collector) RecordProbeCacheHit() {
	if c == nil {
		return
	}
	c.probeCacheHits.Inc()
}

// RecordExecution counts an executor run and observes its latency.
func (c *Collector) RecordExecution(seconds float64, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.executions.WithLabelValues(outcome).Inc()
	c.executionLatency.Observe(seconds)
}

// RecordCacheWriteFailure counts a failed Merkle-root cache write.
func (c *Collector) RecordCacheWriteFailure() {
	if c == nil {
		return
	}
	c.cacheWriteFailures.Inc()
}

// VerificationStarted increments the in-flight gauge.
func (c *Collector) VerificationStarted() {
	if c == nil {
		return
	}
	c.verificationsInFlight.Inc()
}

// VerificationFinished decrements the in-flight gauge.
func (c *Collector) VerificationFinished() {
	if c == nil {
		return
	}
	c.verificationsInFlight.Dec()
}

// Handler returns the /metrics handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StartServer serves /metrics for g on addr. It blocks until the server fails.
func StartServer(addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	return http.ListenAndServe(addr, mux)
}
