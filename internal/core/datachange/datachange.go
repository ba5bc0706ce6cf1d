// Package datachange implements the data-change scheduler: the fan-out
// table from a content URI to every capability that asked to be synced
// when that URI mutates.
package datachange

import (
	"sync"

	"github.com/syncd/syncd/internal/core/model"
)

// Scheduler indexes DataChangeSyncJob registrations by URI so a single
// content-changed notification can enqueue every interested capability in
// one pass.
type Scheduler struct {
	mu    sync.Mutex
	byID  map[int]*model.DataChangeSyncJob
	byURI map[string][]int
}

// New creates an empty data-change Scheduler.
func New() *Scheduler {
	return &Scheduler{byID: make(map[int]*model.DataChangeSyncJob), byURI: make(map[string][]int)}
}

// Register adds or replaces a binding under id.
func (s *Scheduler) Register(job model.DataChangeSyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[job.ID]; ok {
		s.unindex(existing)
	}
	cp := job
	s.byID[job.ID] = &cp
	s.byURI[job.URI] = append(s.byURI[job.URI], job.ID)
}

func (s *Scheduler) unindex(job *model.DataChangeSyncJob) {
	ids := s.byURI[job.URI]
	for i, id := range ids {
		if id == job.ID {
			s.byURI[job.URI] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byURI[job.URI]) == 0 {
		delete(s.byURI, job.URI)
	}
}

// Remove drops the binding registered under id.
func (s *Scheduler) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[id]; ok {
		s.unindex(existing)
		delete(s.byID, id)
	}
}

// RemoveByPackage drops every binding whose capability belongs to
// packageID, returning their ids.
func (s *Scheduler) RemoveByPackage(packageID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []int
	for id, j := range s.byID {
		if j.Capability.PackageID == packageID {
			s.unindex(j)
			delete(s.byID, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// OnChange returns one SyncJob per DataChangeSyncJob registered against
// uri, to be enqueued by the dispatcher.
func (s *Scheduler) OnChange(uri string) []model.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byURI[uri]
	if len(ids) == 0 {
		return nil
	}
	out := make([]model.SyncJob, 0, len(ids))
	for _, id := range ids {
		j := s.byID[id]
		out = append(out, model.SyncJob{
			Key:         model.JobKey{Capability: j.Capability},
			Source:      model.SourceDataChange,
			Extras:      j.Extras,
			SourceJobID: j.ID,
		})
	}
	return out
}

// All returns a snapshot of every registered binding.
func (s *Scheduler) All() []model.DataChangeSyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DataChangeSyncJob, 0, len(s.byID))
	for _, j := range s.byID {
		out = append(out, *j)
	}
	return out
}
