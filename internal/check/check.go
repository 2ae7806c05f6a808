// Package check defines the capability contract audit checks implement and
// the process-wide registry the engine resolves them from. The engine treats
// a check as an opaque, time-bounded, idempotent unit of work; scoring
// policy lives entirely inside the check.
package check

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/warden/internal/model"
)

// Check is a single unit of audit logic run against one target.
type Check interface {
	// ID returns the stable identifier audit definitions reference.
	ID() string

	// Timeout returns the per-execution deadline for this check. Zero means
	// the engine's configured default applies.
	Timeout() time.Duration

	// Execute runs the check against the target. It returns pass or fail as
	// a valid audit outcome with a human-readable detail; an error return is
	// an engine-level fault (target unreachable, protocol failure), not a
	// failed check. Implementations must honor ctx cancellation.
	Execute(ctx context.Context, target *model.Target) (outcome string, detail string, err error)
}

// Registry holds registered checks. It is populated at startup and
// read-mostly afterwards; lookups are never concurrent with registration.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewRegistry creates an empty check registry.
func NewRegistry() *Registry {
	return &Registry{
		checks: make(map[string]Check),
	}
}

// Register adds a check under its own id.
func (r *Registry) Register(c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[c.ID()] = c
}

// Resolve returns the check registered under the given id.
func (r *Registry) Resolve(id string) (Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.checks[id]
	if !ok {
		return nil, fmt.Errorf("check %q is not registered", id)
	}
	return c, nil
}

// Info describes a registered check for API listings.
type Info struct {
	ID       string `json:"id"`
	TimeoutS int    `json:"timeout_s"`
}

// List returns information about all registered checks, sorted by id for a
// stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.checks))
	for id, c := range r.checks {
		infos = append(infos, Info{
			ID:       id,
			TimeoutS: int(c.Timeout() / time.Second),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}
