package registry

import (
	"testing"

	"github.com/syncd/syncd/internal/core/model"
	syncerr "github.com/syncd/syncd/pkg/errors"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	reg := model.AdapterRegistration{PackageID: "pkg-a", ServiceAppID: "http://adapter-a:9000"}

	r.Register(reg)

	got, err := r.Lookup("pkg-a")
	if err != nil {
		t.Fatalf("Lookup() returned error: %v", err)
	}
	if got.ServiceAppID != reg.ServiceAppID {
		t.Errorf("Lookup() ServiceAppID = %q, want %q", got.ServiceAppID, reg.ServiceAppID)
	}
}

func TestRegistry_LookupUnregistered(t *testing.T) {
	r := New()

	_, err := r.Lookup("pkg-missing")
	if err == nil {
		t.Fatalf("Lookup() on an unregistered package should error")
	}
	appErr, ok := err.(*syncerr.AppError)
	if !ok {
		t.Fatalf("Lookup() error type = %T, want *errors.AppError", err)
	}
	if appErr.Code != syncerr.ErrCodeAdapterUnregistered {
		t.Errorf("Lookup() error code = %q, want %q", appErr.Code, syncerr.ErrCodeAdapterUnregistered)
	}
}

func TestRegistry_ReregisterIsIdempotent(t *testing.T) {
	r := New()
	r.Register(model.AdapterRegistration{PackageID: "pkg-a", ServiceAppID: "http://v1"})
	r.Register(model.AdapterRegistration{PackageID: "pkg-a", ServiceAppID: "http://v2"})

	got, err := r.Lookup("pkg-a")
	if err != nil {
		t.Fatalf("Lookup() returned error: %v", err)
	}
	if got.ServiceAppID != "http://v2" {
		t.Errorf("Lookup() ServiceAppID = %q, want the latest registration", got.ServiceAppID)
	}
	if len(r.All()) != 1 {
		t.Errorf("All() returned %d entries, want 1", len(r.All()))
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := New()
	r.Register(model.AdapterRegistration{PackageID: "pkg-a", ServiceAppID: "http://adapter-a"})

	if !r.IsRegistered("pkg-a") {
		t.Fatalf("IsRegistered() = false, want true before unregister")
	}

	r.Unregister("pkg-a")

	if r.IsRegistered("pkg-a") {
		t.Errorf("IsRegistered() = true, want false after unregister")
	}
	if _, err := r.Lookup("pkg-a"); err == nil {
		t.Errorf("Lookup() succeeded after unregister")
	}
}

func TestRegistry_All(t *testing.T) {
	r := New()
	r.Register(model.AdapterRegistration{PackageID: "pkg-a", ServiceAppID: "http://a"})
	r.Register(model.AdapterRegistration{PackageID: "pkg-b", ServiceAppID: "http://b"})

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d entries, want 2", len(all))
	}
}
