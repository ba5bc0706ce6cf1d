// Package active implements the active job set: sync jobs the dispatcher
// has handed to an adapter and is waiting to hear back about, each guarded
// by a watchdog timer that force-finishes a job if its adapter never
// reports in.
package active

import (
	"sync"
	"time"

	"github.com/syncd/syncd/internal/core/clock"
	"github.com/syncd/syncd/internal/core/model"
)

// Entry is one running job plus its bookkeeping.
type Entry struct {
	Job       model.SyncJob
	StartedAt time.Time
	Watchdog  clock.Timer
}

// Set is the active job set. The dispatcher starts at most one job per
// package at a time, whatever its adapter registration says; it enforces
// that before calling Start, and Set only tracks what's running.
type Set struct {
	mu      sync.Mutex
	clk     clock.Clock
	byKey   map[model.JobKey]*Entry
	timeout time.Duration
}

// New creates an empty active Set whose watchdogs fire after timeout.
func New(clk clock.Clock, timeout time.Duration) *Set {
	return &Set{clk: clk, byKey: make(map[model.JobKey]*Entry), timeout: timeout}
}

// Start marks job as running and arms its watchdog. onTimeout is invoked
// (from the timer's own goroutine) if the watchdog fires before Finish is
// called; callers are expected to funnel that into the dispatcher's
// message loop rather than act on it directly.
func (s *Set) Start(job model.SyncJob, onTimeout func(model.JobKey)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := s.clk.NewTimer(s.timeout)
	entry := &Entry{Job: job, StartedAt: s.clk.Now(), Watchdog: timer}
	s.byKey[job.Key] = entry

	go func() {
		if _, ok := <-timer.C(); ok {
			onTimeout(job.Key)
		}
	}()
}

// Finish removes key from the active set and stops its watchdog. Returns
// the finished job and true if it was active.
func (s *Set) Finish(key model.JobKey) (model.SyncJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byKey[key]
	if !ok {
		return model.SyncJob{}, false
	}
	entry.Watchdog.Stop()
	delete(s.byKey, key)
	return entry.Job, true
}

// IsActive reports whether key is currently running.
func (s *Set) IsActive(key model.JobKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byKey[key]
	return ok
}

// CountForCapability returns how many active jobs target cap.
func (s *Set) CountForCapability(cap model.Capability) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.byKey {
		if k.Capability == cap {
			n++
		}
	}
	return n
}

// Len returns the total number of active jobs.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// ActiveEntry is a read-only view of one running job plus when it started,
// used by the dispatcher's preemption decision tree.
type ActiveEntry struct {
	Job       model.SyncJob
	StartedAt time.Time
}

// SnapshotEntries returns a copy of every active job together with its
// start time.
func (s *Set) SnapshotEntries() []ActiveEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActiveEntry, 0, len(s.byKey))
	for _, e := range s.byKey {
		out = append(out, ActiveEntry{Job: e.Job, StartedAt: e.StartedAt})
	}
	return out
}

// Snapshot returns a copy of every active job.
func (s *Set) Snapshot() []model.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SyncJob, 0, len(s.byKey))
	for _, e := range s.byKey {
		out = append(out, e.Job)
	}
	return out
}

// SnapshotForCapability returns a copy of every active job for cap.
func (s *Set) SnapshotForCapability(cap model.Capability) []model.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SyncJob
	for k, e := range s.byKey {
		if k.Capability == cap {
			out = append(out, e.Job)
		}
	}
	return out
}
