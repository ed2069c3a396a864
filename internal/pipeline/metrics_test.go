package pipeline

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/observability"
)

func TestRunMetricsMirrorsToObservability(t *testing.T) {
	rm, err := NewRunMetrics()
	if err != nil {
		t.Fatalf("NewRunMetrics: %v", err)
	}
	sink := observability.NewSink()
	rm.AttachObservability(sink)

	rm.AddBytesIn("zstd", 100)
	rm.IncChunksProcessed()
	rm.IncErrors("zstd")
	rm.ObserveWait("cpu", 0.01)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()

	for _, want := range []string{
		"bytes_processed_total 100",
		"chunks_processed_total 1",
		`errors_total{stage="zstd"} 1`,
		"cpu_permit_wait_ms",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("observability output missing %q; got:\n%s", want, body)
		}
	}
}

func TestRunMetricsWorksWithoutObservability(t *testing.T) {
	rm, err := NewRunMetrics()
	if err != nil {
		t.Fatalf("NewRunMetrics: %v", err)
	}
	// No AttachObservability call: every sink method must tolerate a nil obs.
	rm.AddBytesIn("gzip", 10)
	rm.IncChunksProcessed()
	rm.IncErrors("gzip")
	rm.ObserveWait("io", 0.02)
	rm.ObserveStageDuration("gzip", 0.5)

	if ratio := rm.CompressionRatio("gzip"); ratio != 0 {
		t.Errorf("CompressionRatio with no bytesOut recorded = %v, want 0", ratio)
	}
}
