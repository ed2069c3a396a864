package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/observability"
)

// metricLabels is a label set attached to one observation of a counter or
// histogram sample, keyed into that metric's per-label-combination storage
// by Key(). Trimmed to the two label dimensions this pipeline's own metrics
// actually use: stage name and byte direction (spec.md §6 observability
// port).
type metricLabels map[string]string

// Key returns a sorted, stable string identifying this label combination.
func (l metricLabels) Key() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, l[k]))
	}
	return strings.Join(parts, ",")
}

// stageCounter is a label-keyed monotonic counter, e.g. bytes_processed_total
// broken out by stage and direction.
type stageCounter struct {
	mu     sync.Mutex
	values map[string]*atomic.Int64
}

func newStageCounter() *stageCounter {
	return &stageCounter{values: make(map[string]*atomic.Int64)}
}

func (c *stageCounter) Inc(labels metricLabels) { c.Add(1, labels) }

func (c *stageCounter) Add(v float64, labels metricLabels) {
	key := labels.Key()
	c.mu.Lock()
	n, ok := c.values[key]
	if !ok {
		n = &atomic.Int64{}
		c.values[key] = n
	}
	c.mu.Unlock()
	n.Add(int64(v))
}

func (c *stageCounter) Value(labels metricLabels) float64 {
	key := labels.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.values[key]; ok {
		return float64(n.Load())
	}
	return 0
}

// stageHistogram tracks a per-stage duration or wait distribution. Only
// count/sum are retained per label combination: nothing in this pipeline
// reads a bucketed CDF back out in process. The real scrape surface for
// bucketed histograms is internal/observability.Sink's Prometheus registry.
type stageHistogram struct {
	mu   sync.Mutex
	data map[string]*histogramSample
}

type histogramSample struct {
	count int64
	sum   float64
}

func newStageHistogram() *stageHistogram {
	return &stageHistogram{data: make(map[string]*histogramSample)}
}

func (h *stageHistogram) Observe(v float64, labels metricLabels) {
	key := labels.Key()
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.data[key]
	if !ok {
		s = &histogramSample{}
		h.data[key] = s
	}
	s.count++
	s.sum += v
}

// RunMetrics implements stage.MetricsSink directly over a run's own
// counters and histograms (spec.md §6 observability port:
// bytes_processed_total/chunks_processed_total/errors_total,
// chunk_cpu_time_ms and friends). One RunMetrics is constructed per run;
// every stage's observations are labelled with that stage's name and share
// the run's underlying counters/histograms.
//
// obs, when attached via AttachObservability, mirrors observations onto a
// Prometheus registry exposed over HTTP. Per-stage output bytes
// (AddBytesOut) have no Prometheus counterpart and are kept in process only.
type RunMetrics struct {
	obs *observability.Sink

	stageDuration *stageHistogram
	bytesIn       *stageCounter
	bytesOut      *stageCounter
	chunksTotal   *stageCounter
	errorsTotal   *stageCounter
	cpuWait       *stageHistogram
	ioWait        *stageHistogram
}

// AttachObservability wires a Prometheus sink to mirror this run's
// observations. Returns rm for chaining.
func (rm *RunMetrics) AttachObservability(sink *observability.Sink) *RunMetrics {
	rm.obs = sink
	return rm
}

// NewRunMetrics constructs the metric set a run reports into.
func NewRunMetrics() (*RunMetrics, error) {
	return &RunMetrics{
		stageDuration: newStageHistogram(),
		cpuWait:       newStageHistogram(),
		ioWait:        newStageHistogram(),
		bytesIn:       newStageCounter(),
		bytesOut:      newStageCounter(),
		chunksTotal:   newStageCounter(),
		errorsTotal:   newStageCounter(),
	}, nil
}

// ObserveStageDuration implements stage.MetricsSink.
func (rm *RunMetrics) ObserveStageDuration(stageName string, seconds float64) {
	rm.stageDuration.Observe(seconds*1000, metricLabels{"stage": stageName})
	if rm.obs != nil {
		rm.obs.ChunkCPUTimeMS.WithLabelValues(stageName).Observe(seconds * 1000)
	}
}

// AddBytesIn implements stage.MetricsSink.
func (rm *RunMetrics) AddBytesIn(stageName string, n int64) {
	rm.bytesIn.Add(float64(n), metricLabels{"stage": stageName, "direction": "in"})
	if rm.obs != nil {
		rm.obs.BytesProcessedTotal.Add(float64(n))
	}
}

// AddBytesOut implements stage.MetricsSink.
func (rm *RunMetrics) AddBytesOut(stageName string, n int64) {
	rm.bytesOut.Add(float64(n), metricLabels{"stage": stageName, "direction": "out"})
}

// ObserveCPUWait records time spent blocked acquiring a CPU permit.
func (rm *RunMetrics) ObserveCPUWait(seconds float64) {
	rm.cpuWait.Observe(seconds*1000, metricLabels{})
	if rm.obs != nil {
		rm.obs.ObserveWait("cpu", seconds)
	}
}

// ObserveIOWait records time spent blocked acquiring an IO permit.
func (rm *RunMetrics) ObserveIOWait(seconds float64) {
	rm.ioWait.Observe(seconds*1000, metricLabels{})
	if rm.obs != nil {
		rm.obs.ObserveWait("io", seconds)
	}
}

// ObserveWait implements governor.WaitObserver, fanning out to the CPU or
// IO histogram by resource name.
func (rm *RunMetrics) ObserveWait(resource string, seconds float64) {
	switch resource {
	case "cpu":
		rm.ObserveCPUWait(seconds)
	case "io":
		rm.ObserveIOWait(seconds)
	}
}

// IncChunksProcessed increments the run's processed-chunk counter.
func (rm *RunMetrics) IncChunksProcessed() {
	rm.chunksTotal.Inc(metricLabels{})
	if rm.obs != nil {
		rm.obs.ChunksProcessedTotal.Inc()
	}
}

// IncErrors increments the error counter for the named stage (or "" for a
// run-level, non-stage-attributed failure).
func (rm *RunMetrics) IncErrors(stageName string) {
	rm.errorsTotal.Inc(metricLabels{"stage": stageName})
	if rm.obs != nil {
		rm.obs.ErrorsTotal.WithLabelValues(stageName).Inc()
	}
}

// CompressionRatio computes output/input bytes for a stage, 0 if no input
// bytes were recorded.
func (rm *RunMetrics) CompressionRatio(stageName string) float64 {
	in := rm.bytesIn.Value(metricLabels{"stage": stageName, "direction": "in"})
	out := rm.bytesOut.Value(metricLabels{"stage": stageName, "direction": "out"})
	if in == 0 {
		return 0
	}
	return out / in
}
