package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// StageConfiguration is a stage's algorithm tag, parameter map, parallel-OK
// flag, and optional per-stage chunk size override (spec.md §3
// PipelineStage.StageConfiguration).
type StageConfiguration struct {
	Algorithm  values.Algorithm
	Parameters map[string]string
	ParallelOK bool
	ChunkSize  *values.ChunkSize
}

// PipelineStage is an identified, ordered, mutable configuration node within
// a Pipeline. Grounded on the teacher's dormant Stage entity (now-adapted
// internal/pipeline stub), given real mutators that bump UpdatedAt the way
// the teacher's aggregate entities do throughout internal/billing and
// internal/tenant (both deleted, but their update-then-touch-timestamp
// pattern is what every mutator here follows).
type PipelineStage struct {
	id            values.StageID
	name          string
	stageType     stage.Type
	configuration StageConfiguration
	enabled       bool
	order         int
	createdAt     time.Time
	updatedAt     time.Time
}

// NewPipelineStage constructs a stage. name must be non-empty.
func NewPipelineStage(name string, stageType stage.Type, cfg StageConfiguration, order int, now time.Time) (PipelineStage, error) {
	if name == "" {
		return PipelineStage{}, fmt.Errorf("%w: stage name must not be empty", ErrInvalidParameter)
	}
	return PipelineStage{
		id:            values.NewStageID(),
		name:          name,
		stageType:     stageType,
		configuration: cfg,
		enabled:       true,
		order:         order,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

func (s PipelineStage) ID() values.StageID                    { return s.id }
func (s PipelineStage) Name() string                          { return s.name }
func (s PipelineStage) StageType() stage.Type                 { return s.stageType }
func (s PipelineStage) Configuration() StageConfiguration     { return s.configuration }
func (s PipelineStage) Enabled() bool                         { return s.enabled }
func (s PipelineStage) Order() int                            { return s.order }
func (s PipelineStage) CreatedAt() time.Time                  { return s.createdAt }
func (s PipelineStage) UpdatedAt() time.Time                  { return s.updatedAt }

// Position reports the stage's ordering class, derived from its algorithm
// via the registry the caller supplies (a PipelineStage does not carry a
// Position field of its own; Position is a property of the registered
// service, not of the configuration node).
func (s PipelineStage) Position(registry *stage.Registry) (stage.Position, error) {
	svc, err := registry.Lookup(s.configuration.Algorithm.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, err)
	}
	return svc.Position(), nil
}

// UpdateConfiguration replaces the stage's configuration and bumps UpdatedAt.
func (s PipelineStage) UpdateConfiguration(cfg StageConfiguration, now time.Time) PipelineStage {
	s.configuration = cfg
	s.updatedAt = now
	return s
}

// UpdateOrder changes the stage's position within its pipeline's ordered
// list and bumps UpdatedAt.
func (s PipelineStage) UpdateOrder(order int, now time.Time) PipelineStage {
	s.order = order
	s.updatedAt = now
	return s
}

// SetEnabled toggles whether this stage runs during processing.
func (s PipelineStage) SetEnabled(enabled bool, now time.Time) PipelineStage {
	s.enabled = enabled
	s.updatedAt = now
	return s
}

// Pipeline is the aggregate root: an identified, named, ordered collection
// of stages plus pipeline-level configuration. Grounded on the teacher's
// dormant Pipeline aggregate stub, filled in with the invariants spec.md §3
// names (unique names among non-archived pipelines, stage orders a
// permutation of 0..n, pre-binary-before-post-binary ordering, no duplicate
// adjacent algorithm+parameter stage).
type Pipeline struct {
	id            values.PipelineID
	name          string
	stages        []PipelineStage
	configuration map[string]string
	archived      bool
	createdAt     time.Time
	updatedAt     time.Time
}

// NewPipeline constructs a pipeline with no stages. name must be non-empty;
// stages are added with AddStage.
func NewPipeline(name string, now time.Time) (*Pipeline, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: pipeline name must not be empty", ErrInvalidParameter)
	}
	return &Pipeline{
		id:            values.NewPipelineID(),
		name:          name,
		configuration: make(map[string]string),
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

func (p *Pipeline) ID() values.PipelineID          { return p.id }
func (p *Pipeline) Name() string                   { return p.name }
func (p *Pipeline) Stages() []PipelineStage        { return append([]PipelineStage(nil), p.stages...) }
func (p *Pipeline) Configuration() map[string]string {
	out := make(map[string]string, len(p.configuration))
	for k, v := range p.configuration {
		out[k] = v
	}
	return out
}
func (p *Pipeline) Archived() bool      { return p.archived }
func (p *Pipeline) CreatedAt() time.Time { return p.createdAt }
func (p *Pipeline) UpdatedAt() time.Time { return p.updatedAt }

// AddStage appends a stage and renumbers orders to 0..n-1 by the caller's
// append order, satisfying invariant (ii) (orders are a permutation of
// 0..n) without requiring the caller to track the next free order.
func (p *Pipeline) AddStage(s PipelineStage, now time.Time) {
	s = s.UpdateOrder(len(p.stages), now)
	p.stages = append(p.stages, s)
	p.updatedAt = now
}

// SetConfiguration sets a pipeline-level configuration key and bumps
// UpdatedAt.
func (p *Pipeline) SetConfiguration(key, value string, now time.Time) {
	p.configuration[key] = value
	p.updatedAt = now
}

// Archive marks the pipeline archived, freeing its name for reuse by
// invariant (i) (names unique only among non-archived pipelines).
func (p *Pipeline) Archive(now time.Time) {
	p.archived = true
	p.updatedAt = now
}

// Restore un-archives the pipeline.
func (p *Pipeline) Restore(now time.Time) {
	p.archived = false
	p.updatedAt = now
}

// Validate checks every structural invariant spec.md §3 names for a
// Pipeline, using registry to resolve each stage's Position. It does not
// check name uniqueness across pipelines — that is a repository-level
// constraint (spec.md §6 persistence port), not a property of one
// aggregate in isolation.
func (p *Pipeline) Validate(registry *stage.Registry) error {
	if err := p.validateOrderPermutation(); err != nil {
		return err
	}
	if err := p.validatePositionOrdering(registry); err != nil {
		return err
	}
	return p.validateNoDuplicateAdjacent()
}

func (p *Pipeline) validateOrderPermutation() error {
	seen := make(map[int]bool, len(p.stages))
	for _, s := range p.stages {
		if s.order < 0 || s.order >= len(p.stages) {
			return fmt.Errorf("%w: stage %q order %d out of range [0,%d)", ErrDuplicateStageOrder, s.name, s.order, len(p.stages))
		}
		if seen[s.order] {
			return fmt.Errorf("%w: order %d used by more than one stage", ErrDuplicateStageOrder, s.order)
		}
		seen[s.order] = true
	}
	return nil
}

func (p *Pipeline) validatePositionOrdering(registry *stage.Registry) error {
	ordered := p.orderedStages()
	seenPostBinary := false
	for _, s := range ordered {
		if !s.enabled {
			continue
		}
		pos, err := s.Position(registry)
		if err != nil {
			return err
		}
		if pos == stage.PreBinary && seenPostBinary {
			return fmt.Errorf("%w: %q (pre-binary) follows a post-binary stage", ErrPositionViolation, s.name)
		}
		if pos == stage.PostBinary {
			seenPostBinary = true
		}
	}
	return nil
}

func (p *Pipeline) validateNoDuplicateAdjacent() error {
	ordered := p.orderedStages()
	for i := 1; i < len(ordered); i++ {
		a, b := ordered[i-1], ordered[i]
		if a.configuration.Algorithm == b.configuration.Algorithm && sameParameters(a.configuration.Parameters, b.configuration.Parameters) {
			return fmt.Errorf("%w: %q and %q are identical adjacent stages", ErrInvalidParameter, a.name, b.name)
		}
	}
	return nil
}

func (p *Pipeline) orderedStages() []PipelineStage {
	out := append([]PipelineStage(nil), p.stages...)
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// StageSteps returns the pipeline's enabled stages, in order, as the
// executor's StageStep view.
func (p *Pipeline) StageSteps() []StageStep {
	ordered := p.orderedStages()
	steps := make([]StageStep, 0, len(ordered))
	for _, s := range ordered {
		if !s.enabled {
			continue
		}
		var chunkSize int64
		if s.configuration.ChunkSize != nil {
			chunkSize = s.configuration.ChunkSize.Bytes()
		}
		steps = append(steps, StageStep{
			Name:       s.name,
			Algorithm:  s.configuration.Algorithm.String(),
			Parameters: s.configuration.Parameters,
			ParallelOK: s.configuration.ParallelOK,
			ChunkSize:  chunkSize,
		})
	}
	return steps
}

func sameParameters(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
