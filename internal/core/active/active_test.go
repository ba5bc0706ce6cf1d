package active

import (
	"testing"
	"time"

	"github.com/syncd/syncd/internal/core/clock"
	"github.com/syncd/syncd/internal/core/model"
)

func jobWithKey(pkg string) model.SyncJob {
	return model.SyncJob{
		Key: model.JobKey{
			Capability: model.Capability{Account: model.Account{Name: "acct-1", Authority: "auth-1"}, PackageID: pkg},
		},
		Source: model.SourceOnDemand,
	}
}

func TestSet_StartAndFinish(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New(clk, time.Minute)
	job := jobWithKey("pkg-a")

	s.Start(job, func(model.JobKey) { t.Errorf("watchdog fired before timeout") })

	if !s.IsActive(job.Key) {
		t.Fatalf("IsActive() = false immediately after Start")
	}

	finished, ok := s.Finish(job.Key)
	if !ok {
		t.Fatalf("Finish() did not find the started job")
	}
	if finished.Key != job.Key {
		t.Errorf("Finish() returned %v, want %v", finished.Key, job.Key)
	}
	if s.IsActive(job.Key) {
		t.Errorf("IsActive() = true after Finish")
	}
}

func TestSet_FinishUnknownKey(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New(clk, time.Minute)

	if _, ok := s.Finish(jobWithKey("pkg-a").Key); ok {
		t.Errorf("Finish() found a job that was never started")
	}
}

func TestSet_WatchdogFiresOnTimeout(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New(clk, time.Minute)
	job := jobWithKey("pkg-a")

	fired := make(chan model.JobKey, 1)
	s.Start(job, func(key model.JobKey) { fired <- key })

	clk.Advance(time.Minute + time.Second)

	select {
	case key := <-fired:
		if key != job.Key {
			t.Errorf("watchdog fired for %v, want %v", key, job.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire after the fake clock advanced past the timeout")
	}
}

func TestSet_CountAndSnapshotForCapability(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := New(clk, time.Minute)
	jobA := jobWithKey("pkg-a")
	jobB := jobWithKey("pkg-b")

	s.Start(jobA, func(model.JobKey) {})
	s.Start(jobB, func(model.JobKey) {})

	if got := s.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if got := s.CountForCapability(jobA.Key.Capability); got != 1 {
		t.Errorf("CountForCapability() = %d, want 1", got)
	}

	snap := s.SnapshotForCapability(jobA.Key.Capability)
	if len(snap) != 1 || snap[0].Key != jobA.Key {
		t.Errorf("SnapshotForCapability() = %v, want just jobA", snap)
	}
}
