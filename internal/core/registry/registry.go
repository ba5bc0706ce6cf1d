// Package registry tracks which adapter service owns which package's sync
// jobs, so the dispatcher knows where to deliver a start-sync call.
package registry

import (
	"sync"

	"github.com/syncd/syncd/internal/core/model"
	syncerr "github.com/syncd/syncd/pkg/errors"
)

// Registry is the adapter registry: package id -> owning service.
// Registration is idempotent, mirroring how an adapter re-announces itself
// on every process start without the daemon treating that as an error.
type Registry struct {
	mu    sync.RWMutex
	byPkg map[string]model.AdapterRegistration
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{byPkg: make(map[string]model.AdapterRegistration)}
}

// Register adds or replaces the adapter owning packageID. Re-registering
// the same package with the same service id is a no-op success.
func (r *Registry) Register(reg model.AdapterRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPkg[reg.PackageID] = reg
}

// Lookup returns the registration for packageID.
func (r *Registry) Lookup(packageID string) (model.AdapterRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byPkg[packageID]
	if !ok {
		return model.AdapterRegistration{}, syncerr.ErrAdapterUnregistered(packageID)
	}
	return reg, nil
}

// Unregister removes packageID, called when its adapter package is
// uninstalled.
func (r *Registry) Unregister(packageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPkg, packageID)
}

// IsRegistered reports whether packageID currently has an adapter.
func (r *Registry) IsRegistered(packageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPkg[packageID]
	return ok
}

// All returns a snapshot of every registered adapter.
func (r *Registry) All() []model.AdapterRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AdapterRegistration, 0, len(r.byPkg))
	for _, reg := range r.byPkg {
		out = append(out, reg)
	}
	return out
}
