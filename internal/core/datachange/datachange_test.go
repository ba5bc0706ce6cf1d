package datachange

import (
	"testing"

	"github.com/syncd/syncd/internal/core/model"
)

func bindingFor(id int, pkg, uri string) model.DataChangeSyncJob {
	return model.DataChangeSyncJob{
		ID:         id,
		Capability: model.Capability{Account: model.Account{Name: "acct-1", Authority: "auth-1"}, PackageID: pkg},
		URI:        uri,
	}
}

func TestScheduler_OnChangeFansOutToEveryBinding(t *testing.T) {
	s := New()
	s.Register(bindingFor(1, "pkg-a", "content://feed/1"))
	s.Register(bindingFor(2, "pkg-b", "content://feed/1"))
	s.Register(bindingFor(3, "pkg-c", "content://feed/2"))

	jobs := s.OnChange("content://feed/1")
	if len(jobs) != 2 {
		t.Fatalf("OnChange() returned %d jobs, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.Source != model.SourceDataChange {
			t.Errorf("OnChange() job source = %q, want data_change", j.Source)
		}
	}
}

func TestScheduler_OnChangeUnknownURI(t *testing.T) {
	s := New()
	if jobs := s.OnChange("content://nothing"); jobs != nil {
		t.Errorf("OnChange() on an unregistered URI = %v, want nil", jobs)
	}
}

func TestScheduler_ReregisterMovesURIIndex(t *testing.T) {
	s := New()
	s.Register(bindingFor(1, "pkg-a", "content://feed/1"))
	s.Register(bindingFor(1, "pkg-a", "content://feed/2"))

	if jobs := s.OnChange("content://feed/1"); len(jobs) != 0 {
		t.Errorf("OnChange() on the old URI = %d jobs, want 0 after re-registration", len(jobs))
	}
	if jobs := s.OnChange("content://feed/2"); len(jobs) != 1 {
		t.Errorf("OnChange() on the new URI = %d jobs, want 1", len(jobs))
	}
}

func TestScheduler_Remove(t *testing.T) {
	s := New()
	s.Register(bindingFor(1, "pkg-a", "content://feed/1"))

	s.Remove(1)

	if jobs := s.OnChange("content://feed/1"); len(jobs) != 0 {
		t.Errorf("OnChange() after Remove() = %d jobs, want 0", len(jobs))
	}
	if len(s.All()) != 0 {
		t.Errorf("All() after Remove() = %d bindings, want 0", len(s.All()))
	}
}

func TestScheduler_RemoveByPackage(t *testing.T) {
	s := New()
	s.Register(bindingFor(1, "pkg-a", "content://feed/1"))
	s.Register(bindingFor(2, "pkg-a", "content://feed/2"))
	s.Register(bindingFor(3, "pkg-b", "content://feed/3"))

	removed := s.RemoveByPackage("pkg-a")
	if len(removed) != 2 {
		t.Fatalf("RemoveByPackage() removed %d ids, want 2", len(removed))
	}
	if len(s.All()) != 1 {
		t.Errorf("All() after RemoveByPackage() = %d bindings, want 1", len(s.All()))
	}
	if jobs := s.OnChange("content://feed/1"); len(jobs) != 0 {
		t.Errorf("OnChange() for a removed package's URI = %d jobs, want 0", len(jobs))
	}
}
