// Package evalrun implements the multi-variant eval pipeline: an
// in-process run registry, the staged background pipeline (planning,
// generating, evaluating, refining), the variant planner, and the
// suggestion writer.
package evalrun

import (
	"fmt"
	"sync"
	"time"

	"github.com/promptsmith/promptsmith/internal/domain"
)

// Registry holds the live state of eval runs. All state lives in process
// memory; a restart loses every run. Reads hand out deep copies so
// callers never observe a run mutating mid-read, and every access goes
// through one mutex.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*domain.Run
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*domain.Run)}
}

// Create stores a new run.
func (r *Registry) Create(run *domain.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run.Clone()
}

// Get returns a deep copy of the run or a NOT_FOUND domain error.
func (r *Registry) Get(runID string) (*domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, fmt.Sprintf("eval run %q was not found", runID))
	}
	return run.Clone(), nil
}

// Update applies fn to the run under the registry lock and bumps
// UpdatedAt.
func (r *Registry) Update(runID string, fn func(*domain.Run)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return domain.E(domain.CodeNotFound, fmt.Sprintf("eval run %q was not found", runID))
	}

	fn(run)
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateVariant applies fn to one variant of the run under the registry
// lock.
func (r *Registry) UpdateVariant(runID, variantID string, fn func(*domain.Variant)) error {
	return r.Update(runID, func(run *domain.Run) {
		for i := range run.Variants {
			if run.Variants[i].ID == variantID {
				fn(&run.Variants[i])
				return
			}
		}
	})
}

// AddProgress increments the run's progress counters. Counters only move
// forward; stages report increments instead of recomputing totals.
func (r *Registry) AddProgress(runID string, generated, evaluated, failed int) error {
	return r.Update(runID, func(run *domain.Run) {
		run.Progress.GeneratedVariants += generated
		run.Progress.EvaluatedVariants += evaluated
		run.Progress.FailedVariants += failed
	})
}
