// Package jobid assigns small stable integer identifiers to the periodic
// and data-change schedules registered per package, so adapters and the
// HTTP facade can reference a schedule without re-sending its full
// capability and extras on every call.
package jobid

import (
	"sync"

	syncerr "github.com/syncd/syncd/pkg/errors"
)

// MaxPerPackage bounds how many standing schedules one package may
// register; this mirrors the small, page-sized allocation a single adapter
// is expected to need.
const MaxPerPackage = 100

// Aggregator allocates job ids in [1, MaxPerPackage] independently per
// package, reusing the lowest free id once one is released.
type Aggregator struct {
	mu       sync.Mutex
	used     map[string][2]uint64 // packageID -> bitmap of ids 1..100 (bit (i-1)%64 of word (i-1)/64 == id i)
	byName   map[string]map[string]int
	idToName map[string]map[int]string
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		used:     make(map[string][2]uint64),
		byName:   make(map[string]map[string]int),
		idToName: make(map[string]map[int]string),
	}
}

// Allocate returns the id bound to name for packageID, assigning the
// lowest free id on first use. Calling Allocate again with the same
// (packageID, name) returns the same id.
func (a *Aggregator) Allocate(packageID, name string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ids, ok := a.byName[packageID]; ok {
		if id, ok := ids[name]; ok {
			return id, nil
		}
	}

	bitmap := a.used[packageID]
	for i := 0; i < MaxPerPackage; i++ {
		bit := uint64(1) << uint(i%64)
		if bitmap[i/64]&bit == 0 {
			id := i + 1
			bitmap[i/64] |= bit
			a.used[packageID] = bitmap
			if a.byName[packageID] == nil {
				a.byName[packageID] = make(map[string]int)
				a.idToName[packageID] = make(map[int]string)
			}
			a.byName[packageID][name] = id
			a.idToName[packageID][id] = name
			return id, nil
		}
	}
	return 0, syncerr.ErrInternal("exhausted job id space for package").WithMetadata("package_id", packageID)
}

// Release frees the id bound to name for packageID, if any.
func (a *Aggregator) Release(packageID, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids, ok := a.byName[packageID]
	if !ok {
		return
	}
	id, ok := ids[name]
	if !ok {
		return
	}
	delete(ids, name)
	delete(a.idToName[packageID], id)
	bitmap := a.used[packageID]
	bitmap[(id-1)/64] &^= uint64(1) << uint((id-1)%64)
	a.used[packageID] = bitmap
}

// ReleaseID frees id directly, regardless of which name it was bound to.
func (a *Aggregator) ReleaseID(packageID string, id int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name, ok := a.idToName[packageID][id]
	if !ok {
		return
	}
	delete(a.byName[packageID], name)
	delete(a.idToName[packageID], id)
	bitmap := a.used[packageID]
	bitmap[(id-1)/64] &^= uint64(1) << uint((id-1)%64)
	a.used[packageID] = bitmap
}

// Name returns the name bound to id for packageID, if any.
func (a *Aggregator) Name(packageID string, id int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.idToName[packageID][id]
	return name, ok
}

// ReleaseAllForPackage frees every id held by packageID, used when an
// adapter package is uninstalled.
func (a *Aggregator) ReleaseAllForPackage(packageID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, packageID)
	delete(a.byName, packageID)
	delete(a.idToName, packageID)
}
