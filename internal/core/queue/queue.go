// Package queue implements the pending job queue: the ordered set of sync
// jobs waiting to be picked up by the dispatcher. Jobs are kept in two
// lists, expedited (user-initiated, dispatched first) and regular, mirroring
// the priority/non-priority split the dispatcher uses when deciding what to
// run next.
package queue

import (
	"sort"
	"sync"

	"github.com/syncd/syncd/internal/core/model"
)

// AddResult reports what Add did with a job.
type AddResult int

const (
	// Inserted means no job shared this key; it was added as new.
	Inserted AddResult = iota
	// Replaced means an existing job with the same key was superseded
	// because the new job is due no later and no lower priority.
	Replaced
	// Conflict means an existing job with the same key outranks the new
	// one, which was therefore dropped.
	Conflict
)

// Queue holds pending jobs, split by priority. All methods are safe for
// concurrent use, but in practice only the dispatcher goroutine ever calls
// them — the mutex exists so tests can inspect the queue from outside that
// goroutine without racing.
type Queue struct {
	mu       sync.Mutex
	priority []model.SyncJob
	regular  []model.SyncJob
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

func priorityOf(j model.SyncJob) int {
	if j.Expedited {
		return 1
	}
	return 0
}

// findIndex locates the pending job with key across both lists.
func (q *Queue) findIndex(key model.JobKey) (list *[]model.SyncJob, idx int, found bool) {
	for _, lp := range []*[]model.SyncJob{&q.priority, &q.regular} {
		for i, j := range *lp {
			if j.Key == key {
				return lp, i, true
			}
		}
	}
	return nil, 0, false
}

func (q *Queue) insert(job model.SyncJob) {
	if job.Expedited {
		q.priority = append(q.priority, job)
		return
	}
	q.regular = append(q.regular, job)
}

// Add inserts job, keeping the contract of at most one pending job per
// Key. If an entry with the same key already exists: when the existing
// entry is due no earlier and is no higher priority than job, job replaces
// it (Replaced); otherwise the existing entry wins and job is dropped
// (Conflict). With no existing entry, job is simply added (Inserted).
func (q *Queue) Add(job model.SyncJob) AddResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if list, idx, found := q.findIndex(job.Key); found {
		existing := (*list)[idx]
		if existing.EffectiveRunTimeMillis() >= job.EffectiveRunTimeMillis() && priorityOf(existing) <= priorityOf(job) {
			*list = append((*list)[:idx], (*list)[idx+1:]...)
			q.insert(job)
			return Replaced
		}
		return Conflict
	}
	q.insert(job)
	return Inserted
}

// RemoveByKey removes the job matching key, from whichever list it's in.
// Returns the removed job and true if one was found.
func (q *Queue) RemoveByKey(key model.JobKey) (model.SyncJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if list, idx, found := q.findIndex(key); found {
		removed := (*list)[idx]
		*list = append((*list)[:idx], (*list)[idx+1:]...)
		return removed, true
	}
	return model.SyncJob{}, false
}

// RemoveByPackage drops every pending job whose capability belongs to
// packageID, used when an adapter package is uninstalled. Returns how
// many jobs were removed.
func (q *Queue) RemoveByPackage(packageID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	q.priority, removed = filterOutPackage(q.priority, packageID, removed)
	q.regular, removed = filterOutPackage(q.regular, packageID, removed)
	return removed
}

func filterOutPackage(list []model.SyncJob, packageID string, removed int) ([]model.SyncJob, int) {
	kept := list[:0]
	for _, j := range list {
		if j.Key.Capability.PackageID == packageID {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	return kept, removed
}

// RemoveByCapability drops every pending job for a specific capability,
// used when its account is removed or sync is disabled for it.
func (q *Queue) RemoveByCapability(cap model.Capability) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	q.priority, removed = filterOutCapability(q.priority, cap, removed)
	q.regular, removed = filterOutCapability(q.regular, cap, removed)
	return removed
}

func filterOutCapability(list []model.SyncJob, cap model.Capability, removed int) ([]model.SyncJob, int) {
	kept := list[:0]
	for _, j := range list {
		if j.Key.Capability == cap {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	return kept, removed
}

// OnBackoffChanged updates BackoffMillis on every pending job targeting
// cap and implicitly re-derives their effective run time (computed lazily
// by EffectiveRunTimeMillis, not cached), per the queue's
// on_backoff_changed contract.
func (q *Queue) OnBackoffChanged(cap model.Capability, backoffMillis int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, list := range [][]model.SyncJob{q.priority, q.regular} {
		for i := range list {
			if list[i].Key.Capability == cap {
				list[i].BackoffMillis = backoffMillis
			}
		}
	}
}

// OnDelayUntilChanged updates DelayUntilMillis on every pending job
// targeting cap, analogous to OnBackoffChanged.
func (q *Queue) OnDelayUntilChanged(cap model.Capability, delayUntilMillis int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, list := range [][]model.SyncJob{q.priority, q.regular} {
		for i := range list {
			if list[i].Key.Capability == cap {
				list[i].DelayUntilMillis = delayUntilMillis
			}
		}
	}
}

// ClearAllBackoff zeroes BackoffMillis on every pending job, mirroring a
// network reconnection clearing every capability's backoff atomically.
func (q *Queue) ClearAllBackoff() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, list := range [][]model.SyncJob{q.priority, q.regular} {
		for i := range list {
			list[i].BackoffMillis = 0
		}
	}
}

// Peek returns the next job that should be dispatched, without removing
// it: the head of the priority list if non-empty, else the head of the
// regular list, in both cases the one with the smallest DispatchOrderKey.
func (q *Queue) Peek() (model.SyncJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.priority) > 0 {
		return q.earliest(q.priority)
	}
	if len(q.regular) > 0 {
		return q.earliest(q.regular)
	}
	return model.SyncJob{}, false
}

func (q *Queue) earliest(list []model.SyncJob) (model.SyncJob, bool) {
	best := list[0]
	for _, j := range list[1:] {
		if j.DispatchOrderKey() < best.DispatchOrderKey() {
			best = j
		}
	}
	return best, true
}

// Len returns the total number of pending jobs across both lists.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority) + len(q.regular)
}

// CountForCapability returns how many pending jobs target cap.
func (q *Queue) CountForCapability(cap model.Capability) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, list := range [][]model.SyncJob{q.priority, q.regular} {
		for _, j := range list {
			if j.Key.Capability == cap {
				n++
			}
		}
	}
	return n
}

// Snapshot returns a copy of every pending job in dispatch order:
// expedited jobs first, then regular, each class sorted ascending by
// DispatchOrderKey (spec §4.4).
func (q *Queue) Snapshot() []model.SyncJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.SyncJob, 0, len(q.priority)+len(q.regular))
	out = append(out, sortedCopy(q.priority)...)
	out = append(out, sortedCopy(q.regular)...)
	return out
}

func sortedCopy(list []model.SyncJob) []model.SyncJob {
	out := make([]model.SyncJob, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool {
		return out[i].DispatchOrderKey() < out[j].DispatchOrderKey()
	})
	return out
}

// SnapshotForCapability returns a copy of every pending job targeting cap.
func (q *Queue) SnapshotForCapability(cap model.Capability) []model.SyncJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.SyncJob
	for _, list := range [][]model.SyncJob{q.priority, q.regular} {
		for _, j := range list {
			if j.Key.Capability == cap {
				out = append(out, j)
			}
		}
	}
	return out
}
