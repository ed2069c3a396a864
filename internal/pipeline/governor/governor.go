// Package governor implements the two-tier resource governor a run borrows
// CPU/IO/memory capacity from: a process-wide pool shared by every
// concurrent run, and a per-run local cap layered on top of it so one run
// cannot starve the others of the global pool.
//
// Grounded on the teacher's global rate/concurrency limiting
// (now-adapted-away internal/ratelimit package) reworked from a per-tenant
// request limiter into a per-resource-class permit pool: counting
// semaphores built on buffered channels (the idiomatic Go pattern the
// teacher's burst limiter itself used), plus a smoothing token bucket from
// golang.org/x/time/rate layered over the IO semaphore to shape device
// throughput rather than just cap concurrency.
package governor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DeviceType classifies the storage backing a run's I/O, used to pick a
// default IO depth (spec.md §5 resource governor device table).
type DeviceType int

const (
	DeviceAuto DeviceType = iota
	DeviceNVMe
	DeviceSSD
	DeviceHDD
)

// DefaultIODepth returns the device's default concurrent-IO-operation depth.
func (d DeviceType) DefaultIODepth() int {
	switch d {
	case DeviceNVMe:
		return 24
	case DeviceSSD:
		return 12
	case DeviceHDD:
		return 4
	default:
		return 12
	}
}

func (d DeviceType) String() string {
	switch d {
	case DeviceNVMe:
		return "nvme"
	case DeviceSSD:
		return "ssd"
	case DeviceHDD:
		return "hdd"
	default:
		return "auto"
	}
}

// semaphore is a counting semaphore built on a buffered channel: acquiring
// sends a token, releasing receives one. Blocks the caller when exhausted.
type semaphore chan struct{}

func newSemaphore(capacity int) semaphore {
	return make(semaphore, capacity)
}

func (s semaphore) acquire(ctx context.Context) (Permit, error) {
	select {
	case s <- struct{}{}:
		return Permit{release: func() { <-s }}, nil
	case <-ctx.Done():
		return Permit{}, ctx.Err()
	}
}

func (s semaphore) tryAcquire() (Permit, bool) {
	select {
	case s <- struct{}{}:
		return Permit{release: func() { <-s }}, true
	default:
		return Permit{}, false
	}
}

// Permit is a single unit of granted capacity. Release is idempotent (a
// second call on the same Permit is a no-op), following the RAII pattern the teacher's
// connection-pool checkout used: callers defer p.Release() immediately
// after a successful Acquire.
type Permit struct {
	release func()
	done    bool
}

// Release returns the permit's capacity to its semaphore. Safe to call on
// a zero-value Permit (no-op).
func (p *Permit) Release() {
	if p.release == nil || p.done {
		return
	}
	p.done = true
	p.release()
}

// WaitObserver receives the time a caller spent blocked in Acquire, letting
// the runner populate cpu_permit_wait_ms / io_permit_wait_ms histograms
// (spec.md §5) without the governor depending on the metrics package.
type WaitObserver interface {
	ObserveWait(resource string, seconds float64)
}

// Global is the process-wide resource pool every run's Local governor draws
// from. One Global is constructed at process startup and shared by every
// concurrent pipeline run.
type Global struct {
	cpu      semaphore
	io       semaphore
	ioLimiter *rate.Limiter
	memUsed  int64 // atomic, bytes
	memLimit int64
	observer WaitObserver
}

// Config configures the process-wide governor.
type Config struct {
	CPUTokens int
	IOTokens  int
	// IOOpsPerSecond smooths the IO semaphore's admitted rate on top of its
	// hard concurrency cap; 0 disables smoothing (burst up to IOTokens).
	IOOpsPerSecond float64
	MemoryLimitBytes int64
	Observer         WaitObserver
}

// NewGlobal constructs the process-wide governor.
func NewGlobal(cfg Config) *Global {
	g := &Global{
		cpu:      newSemaphore(cfg.CPUTokens),
		io:       newSemaphore(cfg.IOTokens),
		memLimit: cfg.MemoryLimitBytes,
		observer: cfg.Observer,
	}
	if cfg.IOOpsPerSecond > 0 {
		g.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOOpsPerSecond), cfg.IOTokens)
	}
	return g
}

// AcquireCPU blocks until a CPU permit is available or ctx is cancelled.
func (g *Global) AcquireCPU(ctx context.Context) (Permit, error) {
	start := time.Now()
	p, err := g.cpu.acquire(ctx)
	g.observeWait("cpu", start)
	return p, err
}

// AcquireIO blocks until an IO permit (and, if configured, a smoothing
// token-bucket slot) is available or ctx is cancelled.
func (g *Global) AcquireIO(ctx context.Context) (Permit, error) {
	start := time.Now()
	if g.ioLimiter != nil {
		if err := g.ioLimiter.Wait(ctx); err != nil {
			return Permit{}, err
		}
	}
	p, err := g.io.acquire(ctx)
	g.observeWait("io", start)
	return p, err
}

func (g *Global) observeWait(resource string, start time.Time) {
	if g.observer != nil {
		g.observer.ObserveWait(resource, time.Since(start).Seconds())
	}
}

// ReserveMemory adds n bytes to the gauge, failing with ErrMemoryExhausted
// equivalent if the resulting total would exceed the configured limit.
// Returns a release func the caller must invoke once the memory is freed.
func (g *Global) ReserveMemory(n int64) (release func(), err error) {
	if g.memLimit <= 0 {
		atomic.AddInt64(&g.memUsed, n)
		return func() { atomic.AddInt64(&g.memUsed, -n) }, nil
	}
	newTotal := atomic.AddInt64(&g.memUsed, n)
	if newTotal > g.memLimit {
		atomic.AddInt64(&g.memUsed, -n)
		return nil, fmt.Errorf("governor: memory gauge %d + %d exceeds limit %d", newTotal-n, n, g.memLimit)
	}
	return func() { atomic.AddInt64(&g.memUsed, -n) }, nil
}

// MemoryUsed reports the current memory gauge value, for diagnostics.
func (g *Global) MemoryUsed() int64 { return atomic.LoadInt64(&g.memUsed) }

// AvailableCPU reports the number of CPU permits not currently held, for the
// cpu_permits_available gauge (spec.md §6 observability port).
func (g *Global) AvailableCPU() int { return cap(g.cpu) - len(g.cpu) }

// AvailableIO reports the number of IO permits not currently held, for the
// io_permits_available gauge (spec.md §6 observability port).
func (g *Global) AvailableIO() int { return cap(g.io) - len(g.io) }

// Local layers a per-run cap on top of the shared Global pool: a run must
// acquire both its own local slot and a slot from the global pool before
// proceeding, so one run's configured concurrency never exceeds its own
// WorkerCount even when the global pool has capacity to spare.
type Local struct {
	global *Global
	slots  semaphore
}

// NewLocal constructs a per-run governor bound to global, capped at
// maxConcurrent local slots.
func NewLocal(global *Global, maxConcurrent int) *Local {
	return &Local{global: global, slots: newSemaphore(maxConcurrent)}
}

// AcquireWorkSlot acquires both a local slot and a global CPU permit,
// releasing whichever it already holds if the second acquisition fails or
// ctx is cancelled.
func (l *Local) AcquireWorkSlot(ctx context.Context) (Permit, error) {
	local, err := l.slots.acquire(ctx)
	if err != nil {
		return Permit{}, err
	}
	cpu, err := l.global.AcquireCPU(ctx)
	if err != nil {
		local.Release()
		return Permit{}, err
	}
	return Permit{release: func() {
		cpu.Release()
		local.Release()
	}}, nil
}

// AcquireIOSlot acquires both a local slot and a global IO permit.
func (l *Local) AcquireIOSlot(ctx context.Context) (Permit, error) {
	local, err := l.slots.acquire(ctx)
	if err != nil {
		return Permit{}, err
	}
	io, err := l.global.AcquireIO(ctx)
	if err != nil {
		local.Release()
		return Permit{}, err
	}
	return Permit{release: func() {
		io.Release()
		local.Release()
	}}, nil
}
