package pipeline

import (
	"errors"
	"fmt"
)

// Error taxonomy (spec.md §7). These are sentinel values; wrap with
// fmt.Errorf("...: %w", ErrX) or *StageError so callers can errors.Is/As
// against them, the way internal/crypto wraps construction errors with
// fmt.Errorf("...: %w", err) throughout the teacher codebase.
var (
	// Validation
	ErrInvalidParameter      = errors.New("pipeline: invalid parameter")
	ErrDuplicateStageOrder   = errors.New("pipeline: duplicate stage order")
	ErrUnknownAlgorithm      = errors.New("pipeline: unknown algorithm")
	ErrPositionViolation     = errors.New("pipeline: position violation")
	ErrIrreversibleInReverse = errors.New("pipeline: irreversible stage in reverse run")

	// IO
	ErrNotFound          = errors.New("pipeline: not found")
	ErrPermissionDenied  = errors.New("pipeline: permission denied")
	ErrDiskFull          = errors.New("pipeline: disk full")
	ErrTruncatedInput    = errors.New("pipeline: truncated input")

	// Integrity
	ErrIntegrity = errors.New("pipeline: integrity check failed")

	// Format
	ErrInvalidFormat     = errors.New("pipeline: invalid container format")
	ErrUnsupportedVersion = errors.New("pipeline: unsupported format version")

	// Concurrency
	ErrCancelled  = errors.New("pipeline: run cancelled")
	ErrTaskPanic  = errors.New("pipeline: task panicked")

	// ResourceExhaustion
	ErrChunkTooLarge  = errors.New("pipeline: chunk too large")
	ErrMemoryExhausted = errors.New("pipeline: memory gauge above hard cap")
)

// StageError wraps an error with the name of the stage that produced it, the
// way a worker attributes a ProcessChunk failure before handing it to the
// coordinator (spec.md §7 propagation rules).
type StageError struct {
	StageName string
	Cause     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %q: %v", e.StageName, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// NewStageError attributes cause to the named stage.
func NewStageError(stageName string, cause error) *StageError {
	return &StageError{StageName: stageName, Cause: cause}
}

// InvalidFormat builds an ErrInvalidFormat with a specific reason, matching
// the container codec's failure semantics (spec.md §4.2).
func InvalidFormat(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidFormat, reason)
}
