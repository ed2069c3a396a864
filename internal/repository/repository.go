// Package repository defines the storage-agnostic port a pipeline
// definition is persisted through, and a PostgreSQL adapter implementing
// it. Grounded on the teacher's repository-interface-plus-adapter pattern
// (now-adapted-away internal/storage backends), narrowed from a
// multi-backend blob store to the five-table relational schema spec.md §6
// names.
package repository

import (
	"context"
	"time"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// PipelineRepository is the storage-agnostic persistence port. The core
// depends only on this interface; a concrete adapter (Postgres, or any
// other relational store with foreign keys and multi-row transactions)
// implements it (spec.md §6).
type PipelineRepository interface {
	Save(ctx context.Context, p *pipeline.Pipeline) error
	FindByID(ctx context.Context, id values.PipelineID) (*pipeline.Pipeline, error)
	FindByName(ctx context.Context, name string) (*pipeline.Pipeline, error)
	List(ctx context.Context) ([]*pipeline.Pipeline, error)
	ListPaginated(ctx context.Context, offset, limit int) ([]*pipeline.Pipeline, error)
	Archive(ctx context.Context, id values.PipelineID) error
	Restore(ctx context.Context, id values.PipelineID) error
	Delete(ctx context.Context, id values.PipelineID) error
	Count(ctx context.Context) (int, error)
}

// ErrNotFound is returned when an operation addresses a pipeline ID or name
// that does not exist in the store.
var ErrNotFound = pipelineNotFoundError{}

type pipelineNotFoundError struct{}

func (pipelineNotFoundError) Error() string { return "repository: pipeline not found" }

// RunRecord is the summary of one processing run persisted alongside its
// pipeline, backing the processing_metrics table (spec.md §6 schema).
// Losing these rows is non-fatal to restoration, which depends solely on
// the container's self-description (spec.md §9 design note).
type RunRecord struct {
	PipelineID   values.PipelineID
	StartedAt    time.Time
	CompletedAt  time.Time
	ChunkCount   uint32
	BytesIn      int64
	BytesOut     int64
	Succeeded    bool
	ErrorMessage string
}
