package values

import (
	"fmt"

	"github.com/google/uuid"
)

// PipelineID uniquely identifies a stored pipeline definition.
type PipelineID string

// NewPipelineID generates a fresh random PipelineID.
func NewPipelineID() PipelineID {
	return PipelineID(uuid.NewString())
}

// ParsePipelineID validates that s is a well-formed UUID and wraps it.
func ParsePipelineID(s string) (PipelineID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid pipeline id %q: %w", s, err)
	}
	return PipelineID(s), nil
}

func (id PipelineID) String() string { return string(id) }

// StageID uniquely identifies a stage within a pipeline.
type StageID string

// NewStageID generates a fresh random StageID.
func NewStageID() StageID {
	return StageID(uuid.NewString())
}

func (id StageID) String() string { return string(id) }

// ChunkSequence is a 0-based, monotone sequence number for a chunk within a
// single run.
type ChunkSequence uint64

func (s ChunkSequence) Uint64() uint64 { return uint64(s) }
