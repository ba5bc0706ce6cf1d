package jobid

import "testing"

func TestAggregator_AllocateIsStable(t *testing.T) {
	a := NewAggregator()

	id1, err := a.Allocate("pkg-a", "schedule-1")
	if err != nil {
		t.Fatalf("Allocate() returned error: %v", err)
	}
	id2, err := a.Allocate("pkg-a", "schedule-1")
	if err != nil {
		t.Fatalf("Allocate() returned error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Allocate() for the same name returned %d then %d, want the same id", id1, id2)
	}
}

func TestAggregator_AllocateReusesLowestFreeID(t *testing.T) {
	a := NewAggregator()

	id1, _ := a.Allocate("pkg-a", "schedule-1")
	id2, _ := a.Allocate("pkg-a", "schedule-2")
	if id1 == id2 {
		t.Fatalf("Allocate() gave two different names the same id %d", id1)
	}

	a.Release("pkg-a", "schedule-1")

	id3, err := a.Allocate("pkg-a", "schedule-3")
	if err != nil {
		t.Fatalf("Allocate() returned error: %v", err)
	}
	if id3 != id1 {
		t.Errorf("Allocate() after release = %d, want the released id %d", id3, id1)
	}
}

func TestAggregator_IndependentPerPackage(t *testing.T) {
	a := NewAggregator()

	id1, _ := a.Allocate("pkg-a", "schedule-1")
	id2, _ := a.Allocate("pkg-b", "schedule-1")
	if id1 != 1 || id2 != 1 {
		t.Errorf("Allocate() for different packages got %d and %d, want both 1", id1, id2)
	}
}

func TestAggregator_ExhaustsSpace(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < MaxPerPackage; i++ {
		name := string(rune('a' + i%26))
		if _, err := a.Allocate("pkg-a", name+string(rune(i))); err != nil {
			t.Fatalf("Allocate() failed before exhausting the space: %v", err)
		}
	}

	if _, err := a.Allocate("pkg-a", "one-too-many"); err == nil {
		t.Errorf("Allocate() succeeded past MaxPerPackage, want an error")
	}
}

func TestAggregator_Name(t *testing.T) {
	a := NewAggregator()
	id, _ := a.Allocate("pkg-a", "schedule-1")

	name, ok := a.Name("pkg-a", id)
	if !ok || name != "schedule-1" {
		t.Errorf("Name() = (%q, %v), want (\"schedule-1\", true)", name, ok)
	}

	if _, ok := a.Name("pkg-a", id+1); ok {
		t.Errorf("Name() found a name for an unallocated id")
	}
}

func TestAggregator_ReleaseID(t *testing.T) {
	a := NewAggregator()
	id, _ := a.Allocate("pkg-a", "schedule-1")

	a.ReleaseID("pkg-a", id)

	if _, ok := a.Name("pkg-a", id); ok {
		t.Errorf("Name() still resolves after ReleaseID()")
	}

	again, err := a.Allocate("pkg-a", "schedule-2")
	if err != nil {
		t.Fatalf("Allocate() returned error: %v", err)
	}
	if again != id {
		t.Errorf("Allocate() after ReleaseID() = %d, want the freed id %d", again, id)
	}
}

func TestAggregator_ReleaseAllForPackage(t *testing.T) {
	a := NewAggregator()
	a.Allocate("pkg-a", "schedule-1")
	a.Allocate("pkg-a", "schedule-2")

	a.ReleaseAllForPackage("pkg-a")

	id, err := a.Allocate("pkg-a", "schedule-3")
	if err != nil {
		t.Fatalf("Allocate() returned error: %v", err)
	}
	if id != 1 {
		t.Errorf("Allocate() after ReleaseAllForPackage() = %d, want 1", id)
	}
}
