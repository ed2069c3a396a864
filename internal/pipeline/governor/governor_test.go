package governor

import (
	"context"
	"testing"
	"time"
)

func TestGlobalAcquireReleaseCPU(t *testing.T) {
	g := NewGlobal(Config{CPUTokens: 2, IOTokens: 1})
	if got := g.AvailableCPU(); got != 2 {
		t.Fatalf("AvailableCPU() = %d, want 2", got)
	}

	ctx := context.Background()
	p1, err := g.AcquireCPU(ctx)
	if err != nil {
		t.Fatalf("AcquireCPU: %v", err)
	}
	if got := g.AvailableCPU(); got != 1 {
		t.Errorf("AvailableCPU() after one acquire = %d, want 1", got)
	}

	p1.Release()
	if got := g.AvailableCPU(); got != 2 {
		t.Errorf("AvailableCPU() after release = %d, want 2", got)
	}

	// Release is idempotent: a second call must not over-release capacity.
	p1.Release()
	if got := g.AvailableCPU(); got != 2 {
		t.Errorf("AvailableCPU() after double release = %d, want 2", got)
	}
}

func TestGlobalCPUExhaustionBlocksUntilCancelled(t *testing.T) {
	g := NewGlobal(Config{CPUTokens: 1, IOTokens: 1})
	ctx := context.Background()
	held, err := g.AcquireCPU(ctx)
	if err != nil {
		t.Fatalf("AcquireCPU: %v", err)
	}
	defer held.Release()

	cctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := g.AcquireCPU(cctx); err == nil {
		t.Error("expected AcquireCPU to fail once the context is cancelled while exhausted")
	}
}

func TestLocalCapsBelowGlobalCapacity(t *testing.T) {
	g := NewGlobal(Config{CPUTokens: 8, IOTokens: 8})
	local := NewLocal(g, 1)

	ctx := context.Background()
	p1, err := local.AcquireWorkSlot(ctx)
	if err != nil {
		t.Fatalf("AcquireWorkSlot: %v", err)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := local.AcquireWorkSlot(cctx); err == nil {
		t.Error("expected a second AcquireWorkSlot to block despite global CPU capacity to spare")
	}

	p1.Release()
	if got := g.AvailableCPU(); got != 8 {
		t.Errorf("AvailableCPU() after local release = %d, want 8", got)
	}
}

func TestReserveMemoryRejectsOverLimit(t *testing.T) {
	g := NewGlobal(Config{CPUTokens: 1, IOTokens: 1, MemoryLimitBytes: 100})
	release, err := g.ReserveMemory(60)
	if err != nil {
		t.Fatalf("ReserveMemory(60): %v", err)
	}
	if g.MemoryUsed() != 60 {
		t.Errorf("MemoryUsed() = %d, want 60", g.MemoryUsed())
	}
	if _, err := g.ReserveMemory(60); err == nil {
		t.Error("expected ReserveMemory to reject a reservation exceeding the limit")
	}
	release()
	if g.MemoryUsed() != 0 {
		t.Errorf("MemoryUsed() after release = %d, want 0", g.MemoryUsed())
	}
}

type recordingObserver struct {
	resource string
	seconds  float64
}

func (r *recordingObserver) ObserveWait(resource string, seconds float64) {
	r.resource = resource
	r.seconds = seconds
}

func TestGlobalReportsWaitToObserver(t *testing.T) {
	obs := &recordingObserver{}
	g := NewGlobal(Config{CPUTokens: 1, IOTokens: 1, Observer: obs})
	p, err := g.AcquireCPU(context.Background())
	if err != nil {
		t.Fatalf("AcquireCPU: %v", err)
	}
	defer p.Release()
	if obs.resource != "cpu" {
		t.Errorf("observer resource = %q, want \"cpu\"", obs.resource)
	}
}
