// Package periodic implements the periodic scheduler: the registry of
// standing schedules and the ripeness check the dispatcher runs on every
// heartbeat to decide which of them should enqueue a job now.
package periodic

import (
	"sync"
	"time"

	"github.com/syncd/syncd/internal/core/clock"
	"github.com/syncd/syncd/internal/core/model"
)

// SyncAutomaticallyChecker gates periodic ripeness on the account-level
// "sync automatically" setting (spec §4.5's get_sync_automatically), e.g.
// constraint.ProviderSettings.
type SyncAutomaticallyChecker interface {
	SyncAutomatically(accountKey string) bool
}

// Scheduler holds every registered PeriodicSyncJob and evaluates which are
// ripe to run.
type Scheduler struct {
	mu                 sync.Mutex
	clk                clock.Clock
	randomOffsetMillis int64
	settings           SyncAutomaticallyChecker
	jobs               map[int]*model.PeriodicSyncJob
}

// New creates an empty periodic Scheduler. randomOffsetMillis is the
// per-installation offset (spec §4.1) subtracted from wall-clock time
// before the modulo-period computation below, spreading alarms across
// installations that share a period. settings may be nil, in which case
// every schedule is treated as permitted to sync automatically.
func New(clk clock.Clock, randomOffsetMillis int64, settings SyncAutomaticallyChecker) *Scheduler {
	return &Scheduler{clk: clk, randomOffsetMillis: randomOffsetMillis, settings: settings, jobs: make(map[int]*model.PeriodicSyncJob)}
}

// Register adds or replaces a schedule under id.
func (s *Scheduler) Register(job model.PeriodicSyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &job
}

// Remove drops the schedule registered under id.
func (s *Scheduler) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// RemoveByPackage drops every schedule whose capability belongs to
// packageID, returning their ids.
func (s *Scheduler) RemoveByPackage(packageID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []int
	for id, j := range s.jobs {
		if j.Capability.PackageID == packageID {
			removed = append(removed, id)
			delete(s.jobs, id)
		}
	}
	return removed
}

// Get returns the schedule registered under id.
func (s *Scheduler) Get(id int) (model.PeriodicSyncJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.PeriodicSyncJob{}, false
	}
	return *j, true
}

// All returns a snapshot of every registered schedule.
func (s *Scheduler) All() []model.PeriodicSyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PeriodicSyncJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Ripe evaluates every schedule against the current time and returns the
// jobs that are ready to enqueue now, per spec §4.5's four-way ripeness
// check. It also records that run against each schedule's LastRunMillis so
// the next evaluation measures from this dispatch.
func (s *Scheduler) Ripe() []model.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.NowMillis()
	var ripe []model.SyncJob
	for _, j := range s.jobs {
		if s.settings != nil && !s.settings.SyncAutomatically(j.Capability.Account.String()) && !j.Extras.Bool(model.ExtraIgnoreSettings) {
			continue
		}

		periodMs := j.Period.Milliseconds()
		if periodMs <= 0 {
			continue
		}
		flexMs := j.Flex.Milliseconds()
		last := j.LastRunMillis

		if !s.isRipe(now, periodMs, flexMs, last) {
			continue
		}

		j.LastRunMillis = now
		ripe = append(ripe, model.SyncJob{
			Key:         model.JobKey{Capability: j.Capability},
			Source:      model.SourcePeriodic,
			Extras:      j.Extras,
			FlexMillis:  flexMs,
			RunByMillis: now,
			QueuedAt:    s.clk.Now(),
			SourceJobID: j.ID,
		})
	}
	return ripe
}

// isRipe implements spec §4.5 exactly: a schedule that has never run is
// always ripe (it has no boundary to measure from yet); otherwise ripe iff
// any of the early-start window, the exact period boundary, the wall
// clock having moved backward, or the period having simply elapsed.
func (s *Scheduler) isRipe(now, periodMs, flexMs, last int64) bool {
	if last == 0 {
		return true
	}
	if last > now {
		// Wall-clock moved backward: spec §8 boundary property says this
		// makes the schedule immediately ripe rather than stuck waiting
		// for a "last run" timestamp that is now in the future.
		return true
	}

	shifted := now - s.randomOffsetMillis
	if shifted < 0 {
		shifted = 0
	}
	remaining := periodMs - (shifted % periodMs)
	sinceLast := now - last

	if remaining <= flexMs && sinceLast > periodMs-flexMs {
		return true
	}
	if remaining == periodMs {
		return true
	}
	if sinceLast >= periodMs {
		return true
	}
	return false
}

// EarliestFuturePollTime returns the wall-clock instant at which the next
// schedule will enter its flex window, across every registered schedule.
// The dispatcher does not call it: it has no one-shot timer and re-checks
// ripeness on every cron heartbeat. A zero Time means no schedules are
// registered.
func (s *Scheduler) EarliestFuturePollTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.NowMillis()
	var earliestMs int64
	found := false
	for _, j := range s.jobs {
		last := j.LastRunMillis
		if last == 0 {
			last = now - j.Period.Milliseconds()
		}
		earliest, _ := j.NextWindow(last)
		if earliest < now {
			earliest = now
		}
		if !found || earliest < earliestMs {
			earliestMs = earliest
			found = true
		}
	}
	if !found {
		return time.Time{}
	}
	return time.UnixMilli(earliestMs)
}
