// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for passkey
// ceremonies, challenge verification, and the rate-limit guard.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all passkey metrics
	Namespace = "passkey"

	// Label names
	LabelCeremony   = "ceremony"
	LabelStatus     = "status"
	LabelReason     = "reason"
	LabelOutcome    = "outcome"
	LabelKind       = "kind"
	LabelEvent      = "event"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Ceremony names
	CeremonyRegistration = "registration"
	CeremonyAssertion    = "assertion"

	// Guard rejection kinds
	KindRateLimited = "rate_limited"
	KindLockedOut   = "locked_out"

	// Credential lifecycle events
	EventRegistered = "registered"
	EventRevoked    = "revoked"
)

var (
	// CeremoniesTotal tracks completed ceremonies by type and status.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of ceremonies by type and status",
		},
		[]string{LabelCeremony, LabelStatus},
	)

	// CeremonyDuration tracks ceremony completion latency in seconds.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of ceremony completion in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCeremony},
	)

	// CeremonyFailures tracks ceremony failures by specific cause. The
	// cause is internal detail; externally failures stay generic.
	CeremonyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremony_failures_total",
			Help:      "Total number of ceremony failures by cause",
		},
		[]string{LabelCeremony, LabelReason},
	)

	// ChallengeVerifications tracks challenge token verifications by outcome.
	ChallengeVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "challenge_verifications_total",
			Help:      "Total number of challenge token verifications by outcome",
		},
		[]string{LabelOutcome},
	)

	// GuardRejections tracks requests refused by the rate-limit guard.
	GuardRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "guard_rejections_total",
			Help:      "Total number of requests refused by the rate or lockout guard",
		},
		[]string{LabelKind},
	)

	// CounterRegressions counts assertions rejected for a non-increasing
	// signature counter. A nonzero rate suggests a cloned authenticator
	// and warrants operator alerting.
	CounterRegressions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "counter_regressions_total",
			Help:      "Total number of assertions rejected for signature counter regression",
		},
	)

	// CredentialEvents tracks credential lifecycle transitions.
	CredentialEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "credential_events_total",
			Help:      "Total number of credential lifecycle transitions",
		},
		[]string{LabelEvent},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// ActiveConnections tracks the number of in-flight HTTP requests.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	// Goroutines tracks the current number of goroutines in the server.
	// Updated periodically by the runtime sampler.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	// Updated periodically by the runtime sampler.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	// Updated periodically by the runtime sampler.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// GCPauseTotalSeconds tracks the cumulative time spent in GC stop-the-world pauses.
	// Updated periodically by the runtime sampler.
	GCPauseTotalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gc_pause_total_seconds",
			Help:      "Cumulative time spent in GC stop-the-world pauses",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordCeremony records a completed ceremony with its duration and status.
//
// Parameters:
//   - ceremony: Ceremony* constant
//   - status: Status* constant
//   - duration: The ceremony completion duration in seconds
func RecordCeremony(ceremony, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, status).Inc()
	CeremonyDuration.WithLabelValues(ceremony).Observe(duration)
}

// RecordCeremonyFailure records the specific cause of a failed ceremony.
// The reason is a short identifier such as "unknown_credential" or
// "counter_regression".
func RecordCeremonyFailure(ceremony, reason string) {
	if !enabled.Load() {
		return
	}
	CeremonyFailures.WithLabelValues(ceremony, reason).Inc()
}

// RecordChallengeVerification records a token verification outcome
// ("ok", "malformed", "invalid_signature", "expired", "replayed",
// "corrupt").
func RecordChallengeVerification(outcome string) {
	if !enabled.Load() {
		return
	}
	ChallengeVerifications.WithLabelValues(outcome).Inc()
}

// RecordGuardRejection records a refusal by the rate or lockout guard.
func RecordGuardRejection(kind string) {
	if !enabled.Load() {
		return
	}
	GuardRejections.WithLabelValues(kind).Inc()
}

// RecordCounterRegression records an assertion rejected for a
// non-increasing signature counter.
func RecordCounterRegression() {
	if !enabled.Load() {
		return
	}
	CounterRegressions.Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
//
// Parameters:
//   - method: The HTTP method (GET, POST, etc.)
//   - statusCode: The HTTP status code as a string
//   - duration: The request duration in seconds
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// RecordCredentialEvent records a credential lifecycle transition
// (Event* constant).
func RecordCredentialEvent(event string) {
	if !enabled.Load() {
		return
	}
	CredentialEvents.WithLabelValues(event).Inc()
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
