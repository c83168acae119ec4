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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	// Metrics should be enabled by default
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	// Test disabling
	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	// Test enabling
	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordCeremony(t *testing.T) {
	Enable()

	// Reset counters before test
	CeremoniesTotal.Reset()
	CeremonyDuration.Reset()

	// Record a successful ceremony
	RecordCeremony(CeremonyRegistration, StatusSuccess, 0.05)

	// Verify counter incremented
	count := testutil.CollectAndCount(CeremoniesTotal)
	if count != 1 {
		t.Errorf("Expected 1 ceremony recorded, got %d", count)
	}

	// Verify histogram updated
	histCount := testutil.CollectAndCount(CeremonyDuration)
	if histCount != 1 {
		t.Errorf("Expected 1 histogram sample, got %d", histCount)
	}

	// Record a failed assertion
	RecordCeremony(CeremonyAssertion, StatusError, 0.01)

	// Verify counter incremented again
	count = testutil.CollectAndCount(CeremoniesTotal)
	if count != 2 {
		t.Errorf("Expected 2 ceremonies recorded, got %d", count)
	}
}

func TestRecordCeremonyWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	// Reset counters
	CeremoniesTotal.Reset()

	// Record ceremony while disabled
	RecordCeremony(CeremonyRegistration, StatusSuccess, 0.05)

	// Verify nothing was recorded
	count := testutil.CollectAndCount(CeremoniesTotal)
	if count != 0 {
		t.Errorf("Expected 0 ceremonies when disabled, got %d", count)
	}
}

func TestRecordCeremonyFailure(t *testing.T) {
	Enable()

	// Reset counters
	CeremonyFailures.Reset()

	// Record failures with specific causes
	RecordCeremonyFailure(CeremonyAssertion, "unknown_credential")
	RecordCeremonyFailure(CeremonyAssertion, "counter_regression")

	count := testutil.CollectAndCount(CeremonyFailures)
	if count != 2 {
		t.Errorf("Expected 2 failures recorded, got %d", count)
	}
}

func TestRecordChallengeVerification(t *testing.T) {
	Enable()

	ChallengeVerifications.Reset()

	RecordChallengeVerification("ok")
	RecordChallengeVerification("replayed")

	count := testutil.CollectAndCount(ChallengeVerifications)
	if count != 2 {
		t.Errorf("Expected 2 verifications recorded, got %d", count)
	}
}

func TestRecordGuardRejection(t *testing.T) {
	Enable()

	GuardRejections.Reset()

	RecordGuardRejection(KindRateLimited)
	RecordGuardRejection(KindLockedOut)

	count := testutil.CollectAndCount(GuardRejections)
	if count != 2 {
		t.Errorf("Expected 2 rejections recorded, got %d", count)
	}
}

func TestRecordCounterRegression(t *testing.T) {
	Enable()

	before := testutil.ToFloat64(CounterRegressions)
	RecordCounterRegression()
	after := testutil.ToFloat64(CounterRegressions)

	if after != before+1 {
		t.Errorf("Expected counter to increment by 1, got %f -> %f", before, after)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	Enable()

	// Reset metrics
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	// Record HTTP request
	RecordHTTPRequest("GET", "200", 0.05)

	// Verify metrics recorded
	count := testutil.CollectAndCount(HTTPRequestsTotal)
	if count != 1 {
		t.Errorf("Expected 1 HTTP request recorded, got %d", count)
	}

	histCount := testutil.CollectAndCount(HTTPRequestDuration)
	if histCount != 1 {
		t.Errorf("Expected 1 HTTP histogram sample, got %d", histCount)
	}
}

func TestRecordCredentialEvent(t *testing.T) {
	Enable()

	CredentialEvents.Reset()

	RecordCredentialEvent(EventRegistered)
	RecordCredentialEvent(EventRegistered)
	RecordCredentialEvent(EventRevoked)

	registered := testutil.ToFloat64(CredentialEvents.WithLabelValues(EventRegistered))
	if registered != 2 {
		t.Errorf("Expected 2 registered events, got %f", registered)
	}

	revoked := testutil.ToFloat64(CredentialEvents.WithLabelValues(EventRevoked))
	if revoked != 1 {
		t.Errorf("Expected 1 revoked event, got %f", revoked)
	}
}

func TestLabelConstants(t *testing.T) {
	// Verify label constants are defined
	labels := []string{
		LabelCeremony, LabelStatus, LabelReason,
		LabelOutcome, LabelKind, LabelEvent, LabelMethod, LabelStatusCode,
	}

	for _, label := range labels {
		if label == "" {
			t.Error("Label constant is empty")
		}
	}
}

func TestMetricsNamespace(t *testing.T) {
	if Namespace == "" {
		t.Error("Namespace constant is empty")
	}
	if Namespace != "passkey" {
		t.Errorf("Expected namespace 'passkey', got '%s'", Namespace)
	}
}

func TestResourceGauges(t *testing.T) {
	Enable()

	// Verify all resource gauges can be set without panicking
	Goroutines.Set(100)
	MemoryAllocBytes.Set(1024 * 1024)
	MemorySysBytes.Set(10 * 1024 * 1024)
	GCPauseTotalSeconds.Set(0.5)
	ServerUptime.Set(3600)

	// Verify gauges are collecting
	collectors := []prometheus.Collector{
		Goroutines, MemoryAllocBytes, MemorySysBytes,
		GCPauseTotalSeconds, ServerUptime,
	}

	for _, collector := range collectors {
		count := testutil.CollectAndCount(collector)
		if count == 0 {
			t.Errorf("Expected gauge %v to be collecting", collector)
		}
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	Enable()

	// Reset metrics
	CeremoniesTotal.Reset()

	// Concurrently record ceremonies
	done := make(chan bool)
	ceremonies := 100

	for i := 0; i < ceremonies; i++ {
		go func() {
			RecordCeremony(CeremonyAssertion, StatusSuccess, 0.01)
			done <- true
		}()
	}

	// Wait for all goroutines
	for i := 0; i < ceremonies; i++ {
		<-done
	}

	count := testutil.CollectAndCount(CeremoniesTotal)
	if count == 0 {
		t.Error("Expected ceremonies to be recorded concurrently")
	}
}

func BenchmarkRecordCeremony(b *testing.B) {
	Enable()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		RecordCeremony(CeremonyAssertion, StatusSuccess, 0.001)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	Enable()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "200", 0.001)
	}
}
