// Package runner implements the channel pipeline a single processing run
// executes: one reader task, a fixed-size worker pool, and one writer task,
// connected by bounded channels, coordinated by a shared cancellation
// context and a run state machine.
//
// Grounded on the teacher's worker-pool dispatch pattern (now-adapted-away
// internal/queue package) generalized from a job-queue consumer pool into a
// three-stage reader/workers/writer pipeline, with the container package
// standing in for the teacher's object-storage backend as the writer's
// sink.
package runner

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	ppl "github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/container"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/governor"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// State is a run's position in its state machine (spec.md §4.4):
// Init -> Reading || Processing || Writing -> Finalising -> Done | Cancelled | Failed.
type State int

const (
	StateInit State = iota
	StateRunning
	StateFinalising
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateFinalising:
		return "finalising"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// GracePeriod is how long the coordinator waits for tasks to exit after
// cancellation before forcing a return (spec.md §4.4, §5).
const GracePeriod = 5 * time.Second

// Config configures one run.
type Config struct {
	InputPath    values.FilePath
	OutputPath   values.FilePath
	ChunkSize    values.ChunkSize
	Workers      values.WorkerCount
	ChannelDepth int
	Steps        []ppl.StageStep
	Operation    stage.Operation
	PipelineID   string
	AppVersion   string
	Metadata     map[string]string

	// FastCDC selects content-defined chunk boundaries (FastCDC rolling
	// hash) over the default fixed-size chunking. FastCDCMin/Avg/Max are
	// in bytes; zero means the teacher's documented defaults
	// (1 MB / 4 MB / 16 MB).
	FastCDC    bool
	FastCDCMin int64
	FastCDCAvg int64
	FastCDCMax int64

	Registry *stage.Registry
	Local    *governor.Local
	Metrics  *ppl.RunMetrics
}

// Result is what a completed run reports.
type Result struct {
	State            State
	ChunkCount       uint32
	OriginalSize     uint64
	OriginalChecksum string
	Err              error
}

// Run executes one processing run to completion, returning once Done,
// Cancelled, or Failed.
func Run(ctx context.Context, cfg Config) Result {
	if err := cfg.InputPath.RequireCategory(values.Input); err != nil {
		return Result{State: StateFailed, Err: err}
	}
	if err := cfg.OutputPath.RequireCategory(values.Output); err != nil {
		return Result{State: StateFailed, Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	executor := ppl.NewExecutor(cfg.Registry)
	if err := executor.ValidateSteps(cfg.Steps, cfg.Operation); err != nil {
		return Result{State: StateFailed, Err: err}
	}

	w, err := container.NewWriter(cfg.OutputPath.String())
	if err != nil {
		return Result{State: StateFailed, Err: err}
	}

	cpuChannel := make(chan ppl.FileChunk, cfg.ChannelDepth)
	writerChannel := make(chan container.PlacedChunk, cfg.ChannelDepth)

	var (
		wg          sync.WaitGroup
		readErr     atomic.Value
		workerErr   atomic.Value
		writerErr   atomic.Value
		chunkCount  uint32
		originalSum = sha256.New()
		sumMu       sync.Mutex
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(cpuChannel)
		n, sum, err := readerTask(runCtx, cfg, cpuChannel, &sumMu, originalSum)
		if err != nil {
			readErr.Store(err)
			cancel()
		}
		atomic.StoreUint32(&chunkCount, n)
		_ = sum
	}()

	// One Context is shared by every worker: chunks have no per-worker
	// affinity (spec.md §3 "workers are symmetric"), so a checksum stage's
	// running hash is only correct if every worker folds its chunks into
	// the same accumulator (stage.Context.HashStateFor is safe for this).
	pctx := &stage.Context{Metrics: cfg.Metrics}

	var workersWG sync.WaitGroup
	for i := 0; i < cfg.Workers.Int(); i++ {
		workersWG.Add(1)
		go func() {
			defer workersWG.Done()
			if err := workerTask(runCtx, cfg, executor, pctx, cpuChannel, writerChannel); err != nil {
				workerErr.Store(err)
				cancel()
			}
		}()
	}

	go func() {
		workersWG.Wait()
		close(writerChannel)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := writerTask(runCtx, cfg, w, writerChannel); err != nil {
			writerErr.Store(err)
			cancel()
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		// Once cancelled, tasks get GracePeriod to exit: even if a task
		// ignores cancellation due to a bug, never hang the process
		// indefinitely.
		select {
		case <-done:
		case <-time.After(GracePeriod):
		}
	}

	if ctx.Err() != nil {
		_ = w.Abort()
		return Result{State: StateCancelled, Err: fmt.Errorf("%w: %v", ppl.ErrCancelled, ctx.Err())}
	}
	if err, ok := readErr.Load().(error); ok && err != nil {
		_ = w.Abort()
		return Result{State: StateFailed, Err: err}
	}
	if err, ok := workerErr.Load().(error); ok && err != nil {
		_ = w.Abort()
		return Result{State: StateFailed, Err: err}
	}
	if err, ok := writerErr.Load().(error); ok && err != nil {
		_ = w.Abort()
		return Result{State: StateFailed, Err: err}
	}

	header := container.FileHeader{
		AppVersion:       cfg.AppVersion,
		OriginalFilename: cfg.InputPath.String(),
		OriginalChecksum: fmt.Sprintf("%x", originalSum.Sum(nil)),
		ProcessingSteps:  toProcessingSteps(cfg.Steps, pctx),
		ChunkSize:        uint32(cfg.ChunkSize.Bytes()),
		ProcessedAt:      time.Now().UTC(),
		PipelineID:       cfg.PipelineID,
		Metadata:         cfg.Metadata,
	}

	if info, statErr := os.Stat(cfg.InputPath.String()); statErr == nil {
		header.OriginalSize = uint64(info.Size())
	}

	if err := w.Finalize(header); err != nil {
		return Result{State: StateFailed, Err: err}
	}
	if err := w.Close(); err != nil {
		return Result{State: StateFailed, Err: fmt.Errorf("container: close output: %w", err)}
	}

	return Result{
		State:            StateDone,
		ChunkCount:       atomic.LoadUint32(&chunkCount),
		OriginalSize:     header.OriginalSize,
		OriginalChecksum: header.OriginalChecksum,
	}
}

// toProcessingSteps builds the header's recorded step list once a forward
// run has completed. For a checksum stage it additionally stamps the
// finalized running digest into the step's own parameters (spec.md §4.6),
// so Restore can hand it back to the same stage's Reverse call via
// headerStageSteps without needing a parallel side-channel.
func toProcessingSteps(steps []ppl.StageStep, pctx *stage.Context) []container.ProcessingStep {
	out := make([]container.ProcessingStep, len(steps))
	for i, s := range steps {
		params := s.Parameters
		if digest, ok := stage.FinalDigest(pctx, s.Algorithm); ok {
			params = make(map[string]string, len(s.Parameters)+1)
			for k, v := range s.Parameters {
				params[k] = v
			}
			params[stage.DigestParam] = digest
		}
		out[i] = container.ProcessingStep{
			StepType:   "Custom:" + s.Algorithm,
			Algorithm:  s.Algorithm,
			Parameters: params,
			Order:      uint32(i),
		}
	}
	return out
}

// readerTask streams the input through a chunkReader (fixed-size by
// default, FastCDC when cfg.FastCDC is set), assigning monotonic sequence
// numbers and offsets and setting is_final on exactly one chunk (spec.md
// §3 FileChunk invariants). It looks one chunk ahead so is_final can be
// determined without assuming a fixed chunk size, since FastCDC boundaries
// are content-dependent.
func readerTask(ctx context.Context, cfg Config, out chan<- ppl.FileChunk, sumMu *sync.Mutex, sum io.Writer) (uint32, []byte, error) {
	f, err := os.Open(cfg.InputPath.String())
	if err != nil {
		return 0, nil, fmt.Errorf("runner: open input: %w", err)
	}
	defer f.Close()

	reader, err := newChunkReader(cfg, f)
	if err != nil {
		return 0, nil, err
	}

	readNext := func() ([]byte, error) {
		permit, err := cfg.Local.AcquireIOSlot(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ppl.ErrCancelled, err)
		}
		data, err := reader.Next()
		permit.Release()
		return data, err
	}

	var sequence values.ChunkSequence
	var offset int64

	current, currErr := readNext()
	if currErr != nil && currErr != io.EOF {
		return 0, nil, fmt.Errorf("runner: read input: %w", currErr)
	}

	for currErr != io.EOF {
		next, nextErr := readNext()
		if nextErr != nil && nextErr != io.EOF {
			return uint32(sequence), nil, fmt.Errorf("runner: read input: %w", nextErr)
		}
		isFinal := nextErr == io.EOF

		sumMu.Lock()
		sum.Write(current)
		sumMu.Unlock()

		chunk, err := ppl.NewFileChunk(sequence, offset, current, isFinal)
		if err != nil {
			return uint32(sequence), nil, err
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return uint32(sequence), nil, fmt.Errorf("%w: %v", ppl.ErrCancelled, ctx.Err())
		}

		sequence++
		offset += int64(len(current))
		current, currErr = next, nextErr
	}

	return uint32(sequence), nil, nil
}

func workerTask(ctx context.Context, cfg Config, executor *ppl.Executor, pctx *stage.Context, in <-chan ppl.FileChunk, out chan<- container.PlacedChunk) error {
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return nil
			}

			slot, err := cfg.Local.AcquireWorkSlot(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", ppl.ErrCancelled, err)
			}

			start := time.Now()
			processed, err := executor.Execute(ctx, chunk, cfg.Steps, cfg.Operation, pctx)
			elapsed := time.Since(start)
			slot.Release()
			if err != nil {
				if cfg.Metrics != nil {
					cfg.Metrics.IncErrors("worker")
				}
				return err
			}
			if cfg.Metrics != nil {
				cfg.Metrics.ObserveStageDuration("total", elapsed.Seconds())
				cfg.Metrics.IncChunksProcessed()
			}

			record := container.EncodeChunkRecord(processed.Data())
			placed := container.PlacedChunk{
				Sequence: processed.Sequence().Uint64(),
				Record:   record,
				IsFinal:  processed.IsFinal(),
			}

			select {
			case out <- placed:
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ppl.ErrCancelled, ctx.Err())
			}

		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ppl.ErrCancelled, ctx.Err())
		}
	}
}

func writerTask(ctx context.Context, cfg Config, w *container.Writer, in <-chan container.PlacedChunk) error {
	for {
		select {
		case placed, ok := <-in:
			if !ok {
				return nil
			}
			permit, err := cfg.Local.AcquireIOSlot(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", ppl.ErrCancelled, err)
			}
			err = w.Place(placed)
			permit.Release()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ppl.ErrCancelled, ctx.Err())
		}
	}
}
