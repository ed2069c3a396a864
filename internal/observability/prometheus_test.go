package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSinkExposesRegisteredMetrics(t *testing.T) {
	sink := NewSink()
	sink.PipelinesProcessedTotal.Inc()
	sink.ChunksProcessedTotal.Add(3)
	sink.ActivePipelines.Set(2)
	sink.ChunkCPUTimeMS.WithLabelValues("zstd").Observe(12.5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("handler status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"pipelines_processed_total 1",
		"chunks_processed_total 3",
		"active_pipelines 2",
		`chunk_cpu_time_ms_bucket{stage="zstd"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q; got:\n%s", want, body)
		}
	}
}

func TestSinkObserveWaitRoutesByResource(t *testing.T) {
	sink := NewSink()
	sink.ObserveWait("cpu", 0.010)
	sink.ObserveWait("io", 0.020)
	sink.ObserveWait("unknown", 1) // must not panic on an unrecognized resource

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()
	if !strings.Contains(body, "cpu_permit_wait_ms") || !strings.Contains(body, "io_permit_wait_ms") {
		t.Errorf("expected both wait histograms in output:\n%s", body)
	}
}
