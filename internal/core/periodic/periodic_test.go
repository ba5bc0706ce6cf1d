package periodic

import (
	"testing"
	"time"

	"github.com/syncd/syncd/internal/core/clock"
	"github.com/syncd/syncd/internal/core/model"
)

type fakeSettings struct {
	enabled map[string]bool
}

func (f fakeSettings) SyncAutomatically(accountKey string) bool {
	enabled, ok := f.enabled[accountKey]
	if !ok {
		return true
	}
	return enabled
}

func scheduleFor(id int, pkg string, period, flex time.Duration) model.PeriodicSyncJob {
	return model.PeriodicSyncJob{
		ID:         id,
		Capability: model.Capability{Account: model.Account{Name: "acct-1", Authority: "auth-1"}, PackageID: pkg},
		Period:     period,
		Flex:       flex,
	}
}

func TestScheduler_RegisterAndGet(t *testing.T) {
	s := New(clock.NewFake(time.Now()), 0, nil)
	job := scheduleFor(1, "pkg-a", time.Hour, 0)

	s.Register(job)

	got, ok := s.Get(1)
	if !ok {
		t.Fatalf("Get() did not find the registered schedule")
	}
	if got.Capability.PackageID != "pkg-a" {
		t.Errorf("Get() PackageID = %q, want pkg-a", got.Capability.PackageID)
	}
}

func TestScheduler_RemoveByPackage(t *testing.T) {
	s := New(clock.NewFake(time.Now()), 0, nil)
	s.Register(scheduleFor(1, "pkg-a", time.Hour, 0))
	s.Register(scheduleFor(2, "pkg-a", time.Hour, 0))
	s.Register(scheduleFor(3, "pkg-b", time.Hour, 0))

	removed := s.RemoveByPackage("pkg-a")
	if len(removed) != 2 {
		t.Fatalf("RemoveByPackage() removed %d ids, want 2", len(removed))
	}
	if len(s.All()) != 1 {
		t.Errorf("All() returned %d schedules, want 1", len(s.All()))
	}
}

func TestScheduler_RipeFiresOnFirstEvaluation(t *testing.T) {
	start := time.Now()
	clk := clock.NewFake(start)
	s := New(clk, 0, nil)
	s.Register(scheduleFor(1, "pkg-a", time.Hour, 0))

	ripe := s.Ripe()
	if len(ripe) != 1 {
		t.Fatalf("Ripe() returned %d jobs on first evaluation, want 1", len(ripe))
	}
	if ripe[0].Source != model.SourcePeriodic {
		t.Errorf("Ripe() job source = %q, want periodic", ripe[0].Source)
	}
}

func TestScheduler_RipeNotYetDue(t *testing.T) {
	start := time.Now()
	clk := clock.NewFake(start)
	s := New(clk, 0, nil)
	s.Register(scheduleFor(1, "pkg-a", time.Hour, 0))

	s.Ripe()

	clk.Advance(10 * time.Minute)
	ripe := s.Ripe()
	if len(ripe) != 0 {
		t.Errorf("Ripe() returned %d jobs before the period elapsed, want 0", len(ripe))
	}
}

func TestScheduler_RipeAfterFullPeriod(t *testing.T) {
	start := time.Now()
	clk := clock.NewFake(start)
	s := New(clk, 0, nil)
	s.Register(scheduleFor(1, "pkg-a", time.Hour, 0))

	s.Ripe()

	clk.Advance(time.Hour + time.Second)
	ripe := s.Ripe()
	if len(ripe) != 1 {
		t.Fatalf("Ripe() returned %d jobs after a full period elapsed, want 1", len(ripe))
	}
}

func TestScheduler_RipeEntersFlexWindowEarly(t *testing.T) {
	s := New(clock.NewFake(time.Now()), 0, nil)

	periodMs := time.Hour.Milliseconds()
	flexMs := (10 * time.Minute).Milliseconds()
	now := int64(3_500_000) // 100s short of the hour boundary
	last := int64(100_000)  // well past periodMs-flexMs ago

	if !s.isRipe(now, periodMs, flexMs, last) {
		t.Errorf("isRipe() = false inside the flex window before the period boundary, want true")
	}
}

func TestScheduler_RipeWallClockMovedBackward(t *testing.T) {
	s := New(clock.NewFake(time.Now()), 0, nil)

	periodMs := time.Hour.Milliseconds()
	now := int64(1_000_000)
	last := now + 10*time.Minute.Milliseconds()

	if !s.isRipe(now, periodMs, 0, last) {
		t.Errorf("isRipe() = false when now precedes the last recorded run, want true")
	}
}

func TestScheduler_RipeGatedBySyncAutomatically(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cap := model.Capability{Account: model.Account{Name: "acct-1", Authority: "auth-1"}, PackageID: "pkg-a"}
	settings := fakeSettings{enabled: map[string]bool{cap.Account.String(): false}}
	s := New(clk, 0, settings)
	s.Register(scheduleFor(1, "pkg-a", time.Hour, 0))

	ripe := s.Ripe()
	if len(ripe) != 0 {
		t.Errorf("Ripe() returned %d jobs with sync-automatically disabled, want 0", len(ripe))
	}
}

func TestScheduler_RipeIgnoresSettingsWhenExtraSet(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cap := model.Capability{Account: model.Account{Name: "acct-1", Authority: "auth-1"}, PackageID: "pkg-a"}
	settings := fakeSettings{enabled: map[string]bool{cap.Account.String(): false}}
	s := New(clk, 0, settings)
	job := scheduleFor(1, "pkg-a", time.Hour, 0)
	job.Extras = model.Extras{model.ExtraIgnoreSettings: "true"}
	s.Register(job)

	ripe := s.Ripe()
	if len(ripe) != 1 {
		t.Errorf("Ripe() returned %d jobs with ExtraIgnoreSettings set, want 1", len(ripe))
	}
}

func TestScheduler_EarliestFuturePollTimeEmpty(t *testing.T) {
	s := New(clock.NewFake(time.Now()), 0, nil)
	if got := s.EarliestFuturePollTime(); !got.IsZero() {
		t.Errorf("EarliestFuturePollTime() = %v, want zero time with no schedules", got)
	}
}
