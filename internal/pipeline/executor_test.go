package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/abitofhelp/adaptive-pipeline-sub000/internal/pipeline/stage"
)

// upperService uppercases forward and lowercases in reverse, a simple
// invertible transform for round-trip executor tests.
type upperService struct{ reversible bool }

func (s upperService) ProcessChunk(ctx context.Context, c stage.Chunk, cfg stage.Config, pctx *stage.Context) (stage.Chunk, error) {
	out := make([]byte, len(c.Data))
	for i, b := range c.Data {
		if cfg.Operation == stage.Reverse {
			if b >= 'A' && b <= 'Z' {
				b = b - 'A' + 'a'
			}
		} else {
			if b >= 'a' && b <= 'z' {
				b = b - 'a' + 'A'
			}
		}
		out[i] = b
	}
	c.Data = out
	return c, nil
}
func (s upperService) Position() stage.Position { return stage.Any }
func (s upperService) IsReversible() bool       { return s.reversible }
func (s upperService) StageType() stage.Type    { return stage.TypeTransform }

func newExecutorRegistry(t *testing.T) *stage.Registry {
	t.Helper()
	r := stage.NewRegistry()
	if err := r.Register("upper", upperService{reversible: true}); err != nil {
		t.Fatalf("register upper: %v", err)
	}
	if err := r.Register("irreversible", upperService{reversible: false}); err != nil {
		t.Fatalf("register irreversible: %v", err)
	}
	return r
}

func TestExecutorForwardReverseRoundTrip(t *testing.T) {
	registry := newExecutorRegistry(t)
	exec := NewExecutor(registry)
	steps := []StageStep{{Name: "upper", Algorithm: "upper"}}

	chunk, err := NewFileChunk(0, 0, []byte("hello"), true)
	if err != nil {
		t.Fatalf("NewFileChunk: %v", err)
	}

	forward, err := exec.Execute(context.Background(), chunk, steps, stage.Forward, &stage.Context{})
	if err != nil {
		t.Fatalf("Execute forward: %v", err)
	}
	if !bytes.Equal(forward.Data(), []byte("HELLO")) {
		t.Errorf("forward data = %q, want %q", forward.Data(), "HELLO")
	}

	reverse, err := exec.Execute(context.Background(), forward, steps, stage.Reverse, &stage.Context{})
	if err != nil {
		t.Fatalf("Execute reverse: %v", err)
	}
	if !bytes.Equal(reverse.Data(), []byte("hello")) {
		t.Errorf("reverse data = %q, want %q", reverse.Data(), "hello")
	}
}

func TestExecutorUnknownAlgorithm(t *testing.T) {
	registry := newExecutorRegistry(t)
	exec := NewExecutor(registry)
	chunk, _ := NewFileChunk(0, 0, []byte("x"), true)

	_, err := exec.Execute(context.Background(), chunk, []StageStep{{Name: "nope", Algorithm: "nope"}}, stage.Forward, &stage.Context{})
	if !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestExecutorIrreversibleInReverse(t *testing.T) {
	registry := newExecutorRegistry(t)
	exec := NewExecutor(registry)
	chunk, _ := NewFileChunk(0, 0, []byte("x"), true)
	steps := []StageStep{{Name: "irr", Algorithm: "irreversible"}}

	_, err := exec.Execute(context.Background(), chunk, steps, stage.Reverse, &stage.Context{})
	if !errors.Is(err, ErrIrreversibleInReverse) {
		t.Errorf("expected ErrIrreversibleInReverse, got %v", err)
	}
}

func TestExecutorValidateSteps(t *testing.T) {
	registry := newExecutorRegistry(t)
	exec := NewExecutor(registry)

	if err := exec.ValidateSteps([]StageStep{{Name: "upper", Algorithm: "upper"}}, stage.Forward); err != nil {
		t.Errorf("expected valid steps, got %v", err)
	}

	err := exec.ValidateSteps([]StageStep{{Name: "irr", Algorithm: "irreversible"}}, stage.Reverse)
	if !errors.Is(err, ErrIrreversibleInReverse) {
		t.Errorf("expected ErrIrreversibleInReverse, got %v", err)
	}

	err = exec.ValidateSteps([]StageStep{{Name: "missing", Algorithm: "missing"}}, stage.Forward)
	if !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestExecutorCancellation(t *testing.T) {
	registry := newExecutorRegistry(t)
	exec := NewExecutor(registry)
	chunk, _ := NewFileChunk(0, 0, []byte("x"), true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, chunk, []StageStep{{Name: "upper", Algorithm: "upper"}}, stage.Forward, &stage.Context{})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}
