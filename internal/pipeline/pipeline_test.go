package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/values"
)

// stubService is a minimal stage.Service fixture for pipeline-level
// invariant tests; it does not transform data.
type stubService struct {
	pos         stage.Position
	reversible  bool
	stageType   stage.Type
}

func (s stubService) ProcessChunk(ctx context.Context, c stage.Chunk, cfg stage.Config, pctx *stage.Context) (stage.Chunk, error) {
	return c, nil
}
func (s stubService) Position() stage.Position   { return s.pos }
func (s stubService) IsReversible() bool         { return s.reversible }
func (s stubService) StageType() stage.Type      { return s.stageType }

func newTestRegistry(t *testing.T) *stage.Registry {
	t.Helper()
	r := stage.NewRegistry()
	must := func(tag string, svc stage.Service) {
		if err := r.Register(tag, svc); err != nil {
			t.Fatalf("register %q: %v", tag, err)
		}
	}
	must("zstd", stubService{pos: stage.PreBinary, reversible: true, stageType: stage.TypeCompression})
	must("aes256gcm", stubService{pos: stage.PostBinary, reversible: true, stageType: stage.TypeEncryption})
	must("sha256", stubService{pos: stage.PostBinary, reversible: false, stageType: stage.TypeChecksum})
	must("tee", stubService{pos: stage.Any, reversible: true, stageType: stage.TypeTransform})
	return r
}

func addStage(t *testing.T, p *Pipeline, algorithm values.Algorithm, now time.Time) {
	t.Helper()
	cfg := StageConfiguration{Algorithm: algorithm}
	s, err := NewPipelineStage(algorithm.String(), stage.TypeCompression, cfg, 0, now)
	if err != nil {
		t.Fatalf("NewPipelineStage: %v", err)
	}
	p.AddStage(s, now)
}

func TestPipelineValidateOrdering(t *testing.T) {
	registry := newTestRegistry(t)
	now := time.Now().UTC()

	p, err := NewPipeline("valid-order", now)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	addStage(t, p, values.AlgoZstd, now)
	addStage(t, p, values.AlgoAES256GCM, now)
	addStage(t, p, values.AlgoSHA256, now)

	if err := p.Validate(registry); err != nil {
		t.Errorf("expected valid pipeline, got: %v", err)
	}
}

func TestPipelineValidateRejectsPreBinaryAfterPostBinary(t *testing.T) {
	registry := newTestRegistry(t)
	now := time.Now().UTC()

	p, err := NewPipeline("bad-order", now)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	addStage(t, p, values.AlgoAES256GCM, now)
	addStage(t, p, values.AlgoZstd, now)

	err = p.Validate(registry)
	if !errors.Is(err, ErrPositionViolation) {
		t.Errorf("expected ErrPositionViolation, got %v", err)
	}
}

func TestPipelineValidateRejectsDuplicateAdjacentStage(t *testing.T) {
	registry := newTestRegistry(t)
	now := time.Now().UTC()

	p, err := NewPipeline("dup-adjacent", now)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	addStage(t, p, values.AlgoZstd, now)
	addStage(t, p, values.AlgoZstd, now)

	err = p.Validate(registry)
	if !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for duplicate adjacent stage, got %v", err)
	}
}

func TestPipelineArchiveRestore(t *testing.T) {
	now := time.Now().UTC()
	p, err := NewPipeline("archival", now)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if p.Archived() {
		t.Fatal("new pipeline must not start archived")
	}
	later := now.Add(time.Minute)
	p.Archive(later)
	if !p.Archived() {
		t.Error("expected pipeline to be archived")
	}
	if !p.UpdatedAt().Equal(later) {
		t.Error("Archive must bump UpdatedAt")
	}
	p.Restore(later.Add(time.Minute))
	if p.Archived() {
		t.Error("expected pipeline to be un-archived")
	}
}

func TestPipelineStageSteps(t *testing.T) {
	now := time.Now().UTC()
	p, err := NewPipeline("steps", now)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	addStage(t, p, values.AlgoZstd, now)
	addStage(t, p, values.AlgoAES256GCM, now)

	steps := p.StageSteps()
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Algorithm != string(values.AlgoZstd) || steps[1].Algorithm != string(values.AlgoAES256GCM) {
		t.Errorf("unexpected step order: %+v", steps)
	}
}

func TestNewPipelineRejectsEmptyName(t *testing.T) {
	if _, err := NewPipeline("", time.Now()); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}
