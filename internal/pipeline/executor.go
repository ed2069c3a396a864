package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
)

// StageStep is the executor's view of one configured pipeline stage: enough
// to look up its service and build a stage.Config, independent of the
// PipelineStage aggregate entity's persistence fields.
type StageStep struct {
	Name       string
	Algorithm  string
	Parameters map[string]string
	ParallelOK bool
	ChunkSize  int64
}

// Executor orchestrates forward or reverse traversal of a stage list for a
// single chunk, looking up each stage's service in a Registry (spec.md
// §4.5). It holds no per-run state; one Executor is shared by every worker
// in a run.
type Executor struct {
	registry *stage.Registry
}

// NewExecutor builds an executor bound to registry.
func NewExecutor(registry *stage.Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs chunk through steps in order (Forward) or reverse order
// (Reverse), returning the transformed chunk or the first stage failure,
// wrapped with the offending stage's name.
func (e *Executor) Execute(ctx context.Context, chunk FileChunk, steps []StageStep, op stage.Operation, pctx *stage.Context) (FileChunk, error) {
	ordered := steps
	if op == stage.Reverse {
		ordered = make([]StageStep, len(steps))
		for i, s := range steps {
			ordered[len(steps)-1-i] = s
		}
	}

	sc := stageChunk(chunk)
	for _, step := range ordered {
		svc, err := e.registry.Lookup(step.Algorithm)
		if err != nil {
			return FileChunk{}, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, err)
		}
		if op == stage.Reverse && !svc.IsReversible() {
			return FileChunk{}, fmt.Errorf("%w: stage %q (algorithm %q)", ErrIrreversibleInReverse, step.Name, step.Algorithm)
		}

		cfg := stage.Config{
			Algorithm:  step.Algorithm,
			Parameters: step.Parameters,
			Operation:  op,
			ParallelOK: step.ParallelOK,
			ChunkSize:  step.ChunkSize,
		}

		select {
		case <-ctx.Done():
			return FileChunk{}, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		default:
		}

		out, err := svc.ProcessChunk(ctx, sc, cfg, pctx)
		if err != nil {
			var stageErr *stage.StageError
			if errors.As(err, &stageErr) {
				return FileChunk{}, NewStageError(step.Name, attributeIntegrity(stageErr.Cause))
			}
			return FileChunk{}, NewStageError(step.Name, err)
		}
		sc = out
	}

	return chunk.WithData(sc.Data), nil
}

// ValidateSteps checks registry membership and position ordering for a
// proposed stage list without running any data through it: every algorithm
// tag must resolve in the registry, and no PostBinary-position stage may
// precede a PreBinary-position one (spec.md §4.1 registry policy, §3
// Pipeline invariant iii). For a Reverse-direction pipeline, every stage
// must also be reversible (spec.md testable property 7).
func (e *Executor) ValidateSteps(steps []StageStep, op stage.Operation) error {
	seenPostBinary := false
	for _, step := range steps {
		svc, err := e.registry.Lookup(step.Algorithm)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownAlgorithm, err)
		}

		pos := svc.Position()
		if pos == stage.PreBinary && seenPostBinary {
			return fmt.Errorf("%w: pre-binary stage %q follows a post-binary stage", ErrPositionViolation, step.Name)
		}
		if pos == stage.PostBinary {
			seenPostBinary = true
		}

		if op == stage.Reverse && !svc.IsReversible() {
			return fmt.Errorf("%w: stage %q (algorithm %q) has no inverse", ErrIrreversibleInReverse, step.Name, step.Algorithm)
		}
	}
	return nil
}

// attributeIntegrity additionally wraps a stage-level failure with
// ErrIntegrity when its cause is one of the stage sentinels spec.md §7
// classifies as an integrity failure (AEAD authentication, checksum digest
// mismatch), so callers that errors.Is against the pipeline taxonomy (e.g.
// cmd/adapipe's exit-code mapping) see it without having to know about
// stage's own, narrower sentinel set.
func attributeIntegrity(cause error) error {
	if errors.Is(cause, stage.ErrAuthenticationFailed) || errors.Is(cause, stage.ErrDigestMismatch) {
		return fmt.Errorf("%w: %w", ErrIntegrity, cause)
	}
	return cause
}

func stageChunk(c FileChunk) stage.Chunk {
	return stage.Chunk{
		Sequence: uint64(c.Sequence()),
		Offset:   c.Offset(),
		Data:     c.Data(),
		IsFinal:  c.IsFinal(),
	}
}
