package queue

import (
	"testing"
	"time"

	"github.com/syncd/syncd/internal/core/model"
)

func jobFor(pkg string, expedited bool, runByMillis int64) model.SyncJob {
	return model.SyncJob{
		Key: model.JobKey{
			Capability: model.Capability{
				Account:   model.Account{Name: "acct-1", Authority: "auth-1"},
				PackageID: pkg,
			},
		},
		Source:      model.SourceOnDemand,
		Fingerprint: "",
		Expedited:   expedited,
		RunByMillis: runByMillis,
		QueuedAt:    time.Now(),
	}
}

func TestQueue_AddReturnsInsertedThenConflict(t *testing.T) {
	q := New()
	job := jobFor("pkg-a", false, 1000)

	if got := q.Add(job); got != Inserted {
		t.Fatalf("Add() on a new job = %v, want Inserted", got)
	}
	// A later-due job of the same priority does not outrank the queued one.
	if got := q.Add(jobFor("pkg-a", false, 5000)); got != Conflict {
		t.Errorf("Add() of a later-due job on an existing key = %v, want Conflict", got)
	}
	if got := q.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestQueue_AddReplacesWhenMoreUrgent(t *testing.T) {
	q := New()
	later := jobFor("pkg-a", false, 5000)
	q.Add(later)

	sooner := jobFor("pkg-a", false, 1000)
	if got := q.Add(sooner); got != Replaced {
		t.Fatalf("Add() with an earlier run time = %v, want Replaced", got)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}

	got, ok := q.Peek()
	if !ok || got.RunByMillis != 1000 {
		t.Errorf("Peek() = %v, want the replaced (sooner) job", got)
	}
}

func TestQueue_PeekPrefersExpedited(t *testing.T) {
	q := New()
	regular := jobFor("pkg-a", false, 1000)
	expedited := jobFor("pkg-b", true, 2000)

	q.Add(regular)
	q.Add(expedited)

	got, ok := q.Peek()
	if !ok {
		t.Fatalf("Peek() found nothing, want the expedited job")
	}
	if got.Key != expedited.Key {
		t.Errorf("Peek() = %v, want the expedited job", got.Key)
	}
}

func TestQueue_PeekEarliestByDispatchOrder(t *testing.T) {
	q := New()
	later := jobFor("pkg-a", false, 60000)
	sooner := jobFor("pkg-b", false, 1000)

	q.Add(later)
	q.Add(sooner)

	got, ok := q.Peek()
	if !ok {
		t.Fatalf("Peek() found nothing")
	}
	if got.Key != sooner.Key {
		t.Errorf("Peek() = %v, want the job with the smaller dispatch order key", got.Key)
	}
}

func TestQueue_PeekOrdersByFlexAdjustedRunTime(t *testing.T) {
	q := New()
	// a later raw deadline but a wide flex window gives this job the
	// smaller dispatch order key, so it should run first even though its
	// RunByMillis comes after the other job's.
	flexible := jobFor("pkg-a", false, 10000)
	flexible.FlexMillis = 9500
	strict := jobFor("pkg-b", false, 8000)

	q.Add(flexible)
	q.Add(strict)

	got, ok := q.Peek()
	if !ok {
		t.Fatalf("Peek() found nothing")
	}
	if got.Key != flexible.Key {
		t.Errorf("Peek() = %v, want the job with the smaller effective_run_time_ms - flex_ms", got.Key)
	}
}

func TestQueue_RemoveByKey(t *testing.T) {
	q := New()
	job := jobFor("pkg-a", false, 1000)
	q.Add(job)

	removed, ok := q.RemoveByKey(job.Key)
	if !ok {
		t.Fatalf("RemoveByKey() did not find the job")
	}
	if removed.Key != job.Key {
		t.Errorf("RemoveByKey() returned %v, want %v", removed.Key, job.Key)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after removal, want 0", q.Len())
	}

	if _, ok := q.RemoveByKey(job.Key); ok {
		t.Errorf("RemoveByKey() found an already-removed job")
	}
}

func TestQueue_RemoveByPackage(t *testing.T) {
	q := New()
	q.Add(jobFor("pkg-a", false, 1000))
	q.Add(jobFor("pkg-b", false, 1000))

	removed := q.RemoveByPackage("pkg-a")
	if removed != 1 {
		t.Errorf("RemoveByPackage() removed %d, want 1", removed)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestQueue_RemoveByCapability(t *testing.T) {
	q := New()
	cap := model.Capability{Account: model.Account{Name: "acct-1", Authority: "auth-1"}, PackageID: "pkg-a"}
	q.Add(jobFor("pkg-a", false, 1000))
	q.Add(jobFor("pkg-b", false, 1000))

	removed := q.RemoveByCapability(cap)
	if removed != 1 {
		t.Errorf("RemoveByCapability() removed %d, want 1", removed)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestQueue_SnapshotOrdersPriorityFirst(t *testing.T) {
	q := New()
	regular := jobFor("pkg-a", false, 1000)
	expedited := jobFor("pkg-b", true, 1000)
	q.Add(regular)
	q.Add(expedited)

	snap := q.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() returned %d jobs, want 2", len(snap))
	}
	if snap[0].Key != expedited.Key {
		t.Errorf("Snapshot()[0] = %v, want the expedited job first", snap[0].Key)
	}
}

func TestQueue_CountForCapability(t *testing.T) {
	q := New()
	cap := model.Capability{Account: model.Account{Name: "acct-1", Authority: "auth-1"}, PackageID: "pkg-a"}
	q.Add(jobFor("pkg-a", false, 1000))
	q.Add(jobFor("pkg-b", false, 1000))

	if got := q.CountForCapability(cap); got != 1 {
		t.Errorf("CountForCapability() = %d, want 1", got)
	}
}

func TestQueue_OnBackoffChangedReordersQueue(t *testing.T) {
	q := New()
	a := jobFor("pkg-a", false, 1000)
	b := jobFor("pkg-b", false, 2000)
	q.Add(a)
	q.Add(b)

	q.OnBackoffChanged(a.Key.Capability, 10000)

	got, ok := q.Peek()
	if !ok || got.Key != b.Key {
		t.Errorf("Peek() after backoff change = %v, want pkg-b to now be earliest", got)
	}
}

func TestQueue_OnDelayUntilChanged(t *testing.T) {
	q := New()
	job := jobFor("pkg-a", false, 1000)
	q.Add(job)

	q.OnDelayUntilChanged(job.Key.Capability, 50000)

	got, ok := q.Peek()
	if !ok {
		t.Fatalf("Peek() found nothing")
	}
	if got.DelayUntilMillis != 50000 {
		t.Errorf("DelayUntilMillis = %d after OnDelayUntilChanged, want 50000", got.DelayUntilMillis)
	}
}

func TestQueue_ClearAllBackoff(t *testing.T) {
	q := New()
	job := jobFor("pkg-a", false, 1000)
	q.Add(job)
	q.OnBackoffChanged(job.Key.Capability, 10000)

	q.ClearAllBackoff()

	got, ok := q.Peek()
	if !ok || got.BackoffMillis != 0 {
		t.Errorf("BackoffMillis after ClearAllBackoff() = %v, want 0", got)
	}
}
