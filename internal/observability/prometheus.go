// Package observability implements the Prometheus-backed half of the
// observability port (spec.md §6): counters, gauges, and histograms
// exported over /metrics, mirroring the in-process counters and histograms
// internal/pipeline.RunMetrics keeps for itself. Grounded on the rest of the
// retrieval pack's use of github.com/prometheus/client_golang, a
// dependency the teacher's own go.mod never imports into working code.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink wires the counters/gauges/histograms spec.md §6 names onto a
// dedicated prometheus.Registry (never the global DefaultRegisterer, so
// multiple Sinks can coexist in tests without collector-already-registered
// panics).
type Sink struct {
	Registry *prometheus.Registry

	PipelinesProcessedTotal prometheus.Counter
	BytesProcessedTotal     prometheus.Counter
	ChunksProcessedTotal    prometheus.Counter
	ErrorsTotal             *prometheus.CounterVec

	ActivePipelines      prometheus.Gauge
	CPUPermitsAvailable  prometheus.Gauge
	IOPermitsAvailable   prometheus.Gauge
	MemoryUsedBytes      prometheus.Gauge

	PipelineProcessingDuration prometheus.Histogram
	ChunkCPUTimeMS             *prometheus.HistogramVec
	CPUPermitWaitMS            prometheus.Histogram
	IOPermitWaitMS             prometheus.Histogram
	QueueWaitMS                *prometheus.HistogramVec
}

// NewSink constructs and registers every metric spec.md §6 names.
func NewSink() *Sink {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Sink{
		Registry: reg,

		PipelinesProcessedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipelines_processed_total", Help: "Total pipeline runs completed.",
		}),
		BytesProcessedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bytes_processed_total", Help: "Total bytes processed across all stages.",
		}),
		ChunksProcessedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunks_processed_total", Help: "Total chunks processed.",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total", Help: "Total errors, labelled by stage.",
		}, []string{"stage"}),

		ActivePipelines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_pipelines", Help: "Pipeline runs currently in flight.",
		}),
		CPUPermitsAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_permits_available", Help: "Unused CPU permits in the global governor.",
		}),
		IOPermitsAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "io_permits_available", Help: "Unused IO permits in the global governor.",
		}),
		MemoryUsedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memory_used_bytes", Help: "Bytes currently reserved against the memory gauge.",
		}),

		PipelineProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_processing_duration_seconds",
			Help:    "Wall-clock duration of a pipeline run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		ChunkCPUTimeMS: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chunk_cpu_time_ms",
			Help:    "CPU time spent processing one chunk through one stage.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		}, []string{"stage"}),
		CPUPermitWaitMS: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cpu_permit_wait_ms",
			Help:    "Time spent blocked acquiring a CPU permit.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		}),
		IOPermitWaitMS: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "io_permit_wait_ms",
			Help:    "Time spent blocked acquiring an IO permit.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		}),
		QueueWaitMS: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_wait_ms",
			Help:    "Time a chunk spent waiting in a channel, labelled cpu or writer.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		}, []string{"queue"}),
	}
}

// Handler serves this Sink's registry, grounded on the teacher's
// internal/api.Metrics.Handler (same promhttp.HandlerFor over a private
// registry rather than the global DefaultGatherer).
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}

// ObserveWait implements governor.WaitObserver.
func (s *Sink) ObserveWait(resource string, seconds float64) {
	switch resource {
	case "cpu":
		s.CPUPermitWaitMS.Observe(seconds * 1000)
	case "io":
		s.IOPermitWaitMS.Observe(seconds * 1000)
	}
}
