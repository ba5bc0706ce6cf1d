package clock

import (
	"testing"
	"time"
)

func TestFake_NowAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if got := f.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	f.Advance(time.Hour)
	if got := f.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Errorf("Now() after Advance(1h) = %v, want %v", got, start.Add(time.Hour))
	}
}

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	f := NewFake(time.Now())
	ch := f.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("After() channel fired before Advance")
	default:
	}

	f.Advance(time.Minute)

	select {
	case <-ch:
	default:
		t.Fatal("After() channel did not fire once the deadline elapsed")
	}
}

func TestFake_TimerStopPreventsFire(t *testing.T) {
	f := NewFake(time.Now())
	timer := f.NewTimer(time.Minute)

	if !timer.Stop() {
		t.Fatalf("Stop() = false, want true for a timer that hadn't fired")
	}

	f.Advance(time.Hour)

	select {
	case <-timer.C():
		t.Fatal("stopped timer fired anyway")
	default:
	}
}

func TestFake_TimerReset(t *testing.T) {
	f := NewFake(time.Now())
	timer := f.NewTimer(time.Minute)

	timer.Reset(2 * time.Minute)

	f.Advance(time.Minute + time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its reset deadline")
	default:
	}

	f.Advance(time.Minute)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire after its reset deadline elapsed")
	}
}

func TestFake_JitterMillis(t *testing.T) {
	f := NewFake(time.Now())
	f.SetJitter(5)

	if got := f.JitterMillis(10); got != 5 {
		t.Errorf("JitterMillis(10) = %d, want 5", got)
	}
	if got := f.JitterMillis(3); got != 2 {
		t.Errorf("JitterMillis(3) with jitter pinned above n = %d, want n-1=2", got)
	}
	if got := f.JitterMillis(0); got != 0 {
		t.Errorf("JitterMillis(0) = %d, want 0", got)
	}
}
