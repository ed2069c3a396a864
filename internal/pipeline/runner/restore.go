package runner

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	ppl "github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/container"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// RestoreConfig configures a restoration run: reading a .adapipe container
// back into its original plaintext.
type RestoreConfig struct {
	ContainerPath values.FilePath
	OutputPath    values.FilePath
	Registry      *stage.Registry
	Metrics       *ppl.RunMetrics
}

// Restore reads container, replays its recorded processing steps in reverse
// order against each chunk, and writes the reconstructed plaintext to
// OutputPath. It is single-threaded: unlike Run, restoration reads the
// container's body sequentially rather than through the reader/workers/
// writer channel pipeline, since the container already guarantees body
// chunks are laid out in sequence order (spec.md §4.2 reader contract).
func Restore(ctx context.Context, cfg RestoreConfig) (Result, error) {
	r, err := container.Open(cfg.ContainerPath.String())
	if err != nil {
		switch {
		case errors.Is(err, container.ErrUnsupportedVersion):
			err = fmt.Errorf("%w: %w", ppl.ErrUnsupportedVersion, err)
		case errors.Is(err, container.ErrTruncated), errors.Is(err, container.ErrNotAnAdapipeFile),
			errors.Is(err, container.ErrMalformedHeader):
			err = fmt.Errorf("%w: %w", ppl.ErrInvalidFormat, err)
		}
		return Result{State: StateFailed}, err
	}
	defer r.Close()

	if err := r.VerifyBody(); err != nil {
		return Result{State: StateFailed}, fmt.Errorf("%w: %v", ppl.ErrIntegrity, err)
	}

	executor := ppl.NewExecutor(cfg.Registry)
	steps := headerStageSteps(r.Header)

	if err := executor.ValidateSteps(steps, stage.Reverse); err != nil {
		return Result{State: StateFailed}, err
	}

	records, err := r.DecodeChunks()
	if err != nil {
		return Result{State: StateFailed}, err
	}

	out, err := os.OpenFile(cfg.OutputPath.String(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{State: StateFailed}, fmt.Errorf("runner: open restore output: %w", err)
	}
	defer out.Close()

	pctx := &stage.Context{
		FileSize: int64(r.Header.OriginalSize),
		Metrics:  cfg.Metrics,
	}

	outSum := sha256.New()
	var offset int64

	for seq, rec := range records {
		select {
		case <-ctx.Done():
			return Result{State: StateCancelled}, fmt.Errorf("%w: %v", ppl.ErrCancelled, ctx.Err())
		default:
		}

		isFinal := seq == len(records)-1
		chunk, err := ppl.NewFileChunk(values.ChunkSequence(seq), offset, rec.Payload, isFinal)
		if err != nil {
			return Result{State: StateFailed}, err
		}

		restored, err := executor.Execute(ctx, chunk, steps, stage.Reverse, pctx)
		if err != nil {
			return Result{State: StateFailed}, err
		}

		if _, err := out.WriteAt(restored.Data(), offset); err != nil {
			return Result{State: StateFailed}, fmt.Errorf("runner: write restored chunk %d: %w", seq, err)
		}
		outSum.Write(restored.Data())
		offset += int64(len(restored.Data()))
	}

	if err := out.Sync(); err != nil {
		return Result{State: StateFailed}, fmt.Errorf("runner: fsync restored output: %w", err)
	}

	gotChecksum := fmt.Sprintf("%x", outSum.Sum(nil))
	if r.Header.OriginalChecksum != "" && gotChecksum != r.Header.OriginalChecksum {
		return Result{State: StateFailed}, fmt.Errorf("%w: restored checksum %s != recorded %s",
			ppl.ErrIntegrity, gotChecksum, r.Header.OriginalChecksum)
	}

	return Result{
		State:            StateDone,
		ChunkCount:       uint32(len(records)),
		OriginalSize:     r.Header.OriginalSize,
		OriginalChecksum: gotChecksum,
	}, nil
}

func headerStageSteps(h container.FileHeader) []ppl.StageStep {
	steps := make([]ppl.StageStep, len(h.ProcessingSteps))
	for i, s := range h.ProcessingSteps {
		steps[i] = ppl.StageStep{
			Name:       s.Algorithm,
			Algorithm:  s.Algorithm,
			Parameters: s.Parameters,
		}
	}
	return steps
}
