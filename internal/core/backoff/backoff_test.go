package backoff

import (
	"testing"
	"time"

	"github.com/syncd/syncd/internal/core/clock"
)

func TestEngine_NotBackedOffInitially(t *testing.T) {
	clk := clock.NewFake(time.Now())
	e := New(DefaultConfig(), clk)

	if e.IsBackedOff("cap-a") {
		t.Errorf("IsBackedOff() = true for a key with no failures")
	}
	if !e.NotBefore("cap-a").IsZero() {
		t.Errorf("NotBefore() = %v, want the zero time", e.NotBefore("cap-a"))
	}
}

func TestEngine_OnFailureGrowsExponentially(t *testing.T) {
	start := time.Now()
	clk := clock.NewFake(start)
	cfg := Config{Initial: time.Second, Max: time.Hour, Multiplier: 2.0}
	e := New(cfg, clk)

	first := e.OnFailure("cap-a")
	if got := first.Sub(start); got != time.Second {
		t.Errorf("first OnFailure() delay = %v, want 1s", got)
	}

	second := e.OnFailure("cap-a")
	if got := second.Sub(start); got != 2*time.Second {
		t.Errorf("second OnFailure() delay = %v, want 2s", got)
	}

	third := e.OnFailure("cap-a")
	if got := third.Sub(start); got != 4*time.Second {
		t.Errorf("third OnFailure() delay = %v, want 4s", got)
	}

	if got := e.FailureCount("cap-a"); got != 3 {
		t.Errorf("FailureCount() = %d, want 3", got)
	}
}

func TestEngine_OnFailureCapsAtMax(t *testing.T) {
	start := time.Now()
	clk := clock.NewFake(start)
	cfg := Config{Initial: time.Hour, Max: 90 * time.Minute, Multiplier: 2.0}
	e := New(cfg, clk)

	e.OnFailure("cap-a")
	notBefore := e.OnFailure("cap-a")

	if got := notBefore.Sub(start); got != 90*time.Minute {
		t.Errorf("capped OnFailure() delay = %v, want 90m", got)
	}
}

func TestEngine_IsBackedOff(t *testing.T) {
	start := time.Now()
	clk := clock.NewFake(start)
	e := New(Config{Initial: time.Minute, Max: time.Hour, Multiplier: 2.0}, clk)

	e.OnFailure("cap-a")
	if !e.IsBackedOff("cap-a") {
		t.Fatalf("IsBackedOff() = false immediately after a failure")
	}

	clk.Advance(time.Minute + time.Second)
	if e.IsBackedOff("cap-a") {
		t.Errorf("IsBackedOff() = true after the backoff window elapsed")
	}
}

func TestEngine_OnSuccessClears(t *testing.T) {
	clk := clock.NewFake(time.Now())
	e := New(DefaultConfig(), clk)

	e.OnFailure("cap-a")
	e.OnSuccess("cap-a")

	if e.IsBackedOff("cap-a") {
		t.Errorf("IsBackedOff() = true after OnSuccess cleared the entry")
	}
	if got := e.FailureCount("cap-a"); got != 0 {
		t.Errorf("FailureCount() = %d after OnSuccess, want 0", got)
	}
}

func TestEngine_ClearAll(t *testing.T) {
	clk := clock.NewFake(time.Now())
	e := New(DefaultConfig(), clk)

	e.OnFailure("cap-a")
	e.OnFailure("cap-b")

	e.ClearAll()

	if e.IsBackedOff("cap-a") || e.IsBackedOff("cap-b") {
		t.Errorf("ClearAll() did not reset every key")
	}
}
