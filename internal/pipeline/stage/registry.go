package stage

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps an algorithm tag to its Service implementation. Registration
// is append-only and checked for tag collisions, the way the teacher's
// dormant stage stubs (internal/pipeline.CompressionStage etc.) would have
// had to be wired into a real map — this is that map, made real.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds a service under its algorithm tag. Registering twice under
// the same tag is a collision and fails.
func (r *Registry) Register(algorithm string, svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[algorithm]; exists {
		return fmt.Errorf("stage registry: algorithm %q already registered", algorithm)
	}
	r.services[algorithm] = svc
	return nil
}

// Lookup returns the service registered for algorithm, or an error listing
// the known tags.
func (r *Registry) Lookup(algorithm string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", errUnknownAlgorithm, algorithm, r.knownLocked())
	}
	return svc, nil
}

// Known returns the sorted list of registered algorithm tags.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.knownLocked()
}

func (r *Registry) knownLocked() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var errUnknownAlgorithm = fmt.Errorf("stage registry: unknown algorithm")
