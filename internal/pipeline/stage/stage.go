// Package stage defines the one contract every pipeline stage implements
// (compression, encryption, checksum, and user transforms alike) and the
// process-wide registry that maps an algorithm tag to its service.
//
// Grounded on the teacher's internal/pipeline.Stage/Pipeline interfaces
// (one trait, many algorithms, a dormant registry of Compression/
// Encryption/Chunking/Dedupe/Erasure/Compute stubs) generalized into a real
// registry keyed by the algorithm tags internal/crypto/config.go declared.
package stage

import (
	"context"
	"fmt"
	"sync"
)

// Position classifies where a stage may sit in a pipeline's stage order.
type Position int

const (
	// PreBinary stages require readable input (compression, PII masking,
	// base64) and must precede every PostBinary stage.
	PreBinary Position = iota
	// PostBinary stages render data opaque (encryption).
	PostBinary
	// Any stages (Tee, PassThrough, and the checksum stages) may appear
	// anywhere.
	Any
)

func (p Position) String() string {
	switch p {
	case PreBinary:
		return "pre-binary"
	case PostBinary:
		return "post-binary"
	case Any:
		return "any"
	default:
		return "unknown"
	}
}

// Type categorizes a stage for metrics labelling (spec.md §3 PipelineStage).
type Type int

const (
	TypeCompression Type = iota
	TypeEncryption
	TypeTransform
	TypeChecksum
	TypePassThrough
)

func (t Type) String() string {
	switch t {
	case TypeCompression:
		return "compression"
	case TypeEncryption:
		return "encryption"
	case TypeTransform:
		return "transform"
	case TypeChecksum:
		return "checksum"
	case TypePassThrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// Operation selects which direction a stage invocation runs.
type Operation int

const (
	Forward Operation = iota
	Reverse
)

func (o Operation) String() string {
	if o == Reverse {
		return "reverse"
	}
	return "forward"
}

// Config carries a stage's algorithm parameters and the operation the
// current invocation should perform. It is constructed fresh per invocation
// by the executor.
type Config struct {
	Algorithm  string
	Parameters map[string]string
	Operation  Operation
	// ParallelOK mirrors PipelineStage.StageConfiguration's parallel-OK
	// flag; the executor does not itself schedule stages in parallel
	// (chunks are already the unit of parallelism), but services may use
	// it to decide whether to use internal goroutines.
	ParallelOK bool
	// ChunkSize is an optional per-stage override of the run's chunk size.
	ChunkSize int64
}

// Param returns a parameter's string value, or ("", false) if absent.
func (c Config) Param(key string) (string, bool) {
	v, ok := c.Parameters[key]
	return v, ok
}

// FromParameters extracts a typed configuration from a stage's raw parameter
// map, returning an error that identifies the offending key or value.
type FromParameters[T any] interface {
	FromParameters(params map[string]string) (T, error)
}

// Chunk is the minimal view a stage service needs of a FileChunk: a payload
// to transform. Kept narrow and decoupled from the concrete pipeline.FileChunk
// type so this package has no import-cycle on the aggregate package.
type Chunk struct {
	Sequence uint64
	Offset   int64
	Data     []byte
	IsFinal  bool
}

// Context is the run-scoped state threaded through every stage invocation
// of a single run. One Context is shared by every worker goroutine (workers
// are symmetric; chunks have no per-worker affinity, spec.md §3), so the
// runningHash map is only ever touched through HashStateFor, never directly.
// Context explicitly does not carry input/output paths (those live at
// worker/task scope per spec.md §3 ProcessingContext) — only file size,
// security level, and a metrics sink the stage can report timing/hash state
// through.
type Context struct {
	FileSize      int64
	SecurityLevel SecurityLevel
	Metrics       MetricsSink

	mu sync.Mutex
	// runningHash accumulates state across chunks for checksum stages that
	// hash incrementally (spec.md §4.6 Checksum contract). Keyed by the
	// stage's algorithm tag so multiple checksum stages in one pipeline
	// don't collide.
	runningHash map[string]HashState
}

// HashStateFor returns the named tag's digest accumulator, constructing it
// with newState on first use. Safe for concurrent callers: every worker in a
// run shares one Context, and chunks for the same checksum stage may reach
// HashStateFor from different worker goroutines.
func (c *Context) HashStateFor(tag string, newState func() HashState) HashState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runningHash == nil {
		c.runningHash = make(map[string]HashState)
	}
	if s, ok := c.runningHash[tag]; ok {
		return s
	}
	s := newState()
	c.runningHash[tag] = s
	return s
}

// SecurityLevel is a coarse classification a stage may use to decide
// whether it needs to refuse operation (e.g. encryption refusing to run
// at SecurityLevelNone without keying material).
type SecurityLevel int

const (
	SecurityLevelNone SecurityLevel = iota
	SecurityLevelStandard
	SecurityLevelHigh
)

// HashState is a sequence-ordered, thread-safe digest accumulator a checksum
// service stores in Context between chunk invocations. Chunks may reach
// Observe out of their run-order (workers process concurrently with no
// per-chunk affinity), so an implementation must buffer an out-of-sequence
// chunk until every lower-numbered one has been folded in — the same
// contiguity-buffer discipline container.Writer uses for out-of-order body
// placement.
type HashState interface {
	// Observe folds seq's data into the digest once seq and every lower
	// sequence number have already been observed.
	Observe(seq uint64, data []byte) error
	// Sum reports the digest over every chunk folded in so far, and whether
	// the final chunk (marked by ObserveFinal) has been folded in yet.
	Sum() (digest []byte, ready bool)
	// ObserveFinal marks seq as the run's last chunk, after folding its data
	// in via the same contiguity rule as Observe. Ready becomes true once
	// every chunk up to and including seq has been folded in.
	ObserveFinal(seq uint64, data []byte) error
}

// MetricsSink receives stage-boundary timing samples. Implemented by
// internal/pipeline's processing-metrics type; kept as an interface here to
// avoid a dependency from stage back onto the aggregate package.
type MetricsSink interface {
	ObserveStageDuration(stageName string, seconds float64)
	AddBytesIn(stageName string, n int64)
	AddBytesOut(stageName string, n int64)
}

// Service is the contract every stage implementation satisfies.
type Service interface {
	// ProcessChunk applies the stage's transform (or its inverse, under
	// Operation Reverse) to one chunk.
	ProcessChunk(ctx context.Context, chunk Chunk, cfg Config, pctx *Context) (Chunk, error)
	// Position reports this service's ordering class.
	Position() Position
	// IsReversible reports whether Reverse is implemented.
	IsReversible() bool
	// StageType reports the category used for metrics labelling.
	StageType() Type
}

// ErrNotReversible is returned by ProcessChunk when called with
// Operation Reverse on a service whose IsReversible() is false.
var ErrNotReversible = fmt.Errorf("stage: not reversible")
