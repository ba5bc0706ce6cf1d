// Package filestore is the default repository.Store backend: three JSON
// documents on disk (capabilities, status, adapters), each written
// atomically and footed with a blake2b checksum so a torn write from a
// crash mid-save is detected on the next load instead of silently
// corrupting state.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/syncd/syncd/internal/core/model"
)

const (
	capabilitiesFile = "capabilities.json"
	statusFile       = "status.json"
	adaptersFile     = "adapters.json"
)

// document is the on-disk envelope: the payload plus a checksum of its
// JSON encoding, computed before the checksum field itself is populated.
type document struct {
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// Store is a filesystem-backed repository.Store.
type Store struct {
	mu  sync.Mutex
	dir string

	capabilities map[string]model.Capability
	statuses     map[string]model.CapabilityStatus
	adapters     map[string]model.AdapterRegistration
}

// Open loads (or initializes) a Store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create store dir: %w", err)
	}
	s := &Store{
		dir:          dir,
		capabilities: make(map[string]model.Capability),
		statuses:     make(map[string]model.CapabilityStatus),
		adapters:     make(map[string]model.AdapterRegistration),
	}
	if err := loadInto(filepath.Join(dir, capabilitiesFile), &s.capabilities); err != nil {
		return nil, err
	}
	if err := loadInto(filepath.Join(dir, statusFile), &s.statuses); err != nil {
		return nil, err
	}
	if err := loadInto(filepath.Join(dir, adaptersFile), &s.adapters); err != nil {
		return nil, err
	}
	return s, nil
}

func loadInto(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filestore: read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("filestore: decode envelope %s: %w", path, err)
	}
	if sum := checksum(doc.Payload); sum != doc.Checksum {
		return fmt.Errorf("filestore: checksum mismatch in %s, file is corrupt", path)
	}
	if len(doc.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(doc.Payload, target)
}

func checksum(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return fmt.Sprintf("%x", sum)
}

func save(path string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", path, err)
	}
	doc := document{Checksum: checksum(payload), Payload: payload}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode envelope %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filestore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("filestore: rename %s: %w", tmp, err)
	}
	return nil
}

func (s *Store) SaveCapability(_ context.Context, cap model.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[cap.Key()] = cap
	return save(filepath.Join(s.dir, capabilitiesFile), s.capabilities)
}

func (s *Store) ListCapabilities(_ context.Context) ([]model.Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Capability, 0, len(s.capabilities))
	for _, c := range s.capabilities {
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) DeleteCapabilitiesForPackage(_ context.Context, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.capabilities {
		if c.PackageID == packageID {
			delete(s.capabilities, k)
		}
	}
	return save(filepath.Join(s.dir, capabilitiesFile), s.capabilities)
}

func (s *Store) SaveStatus(_ context.Context, status model.CapabilityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.Capability.Key()] = status
	return save(filepath.Join(s.dir, statusFile), s.statuses)
}

func (s *Store) GetStatus(_ context.Context, cap model.Capability) (model.CapabilityStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[cap.Key()]
	if !ok {
		return model.CapabilityStatus{Capability: cap}, nil
	}
	return st, nil
}

func (s *Store) ListStatuses(_ context.Context) ([]model.CapabilityStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CapabilityStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) DeleteStatusForPackage(_ context.Context, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, st := range s.statuses {
		if st.Capability.PackageID == packageID {
			delete(s.statuses, k)
		}
	}
	return save(filepath.Join(s.dir, statusFile), s.statuses)
}

func (s *Store) SaveAdapter(_ context.Context, reg model.AdapterRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[reg.PackageID] = reg
	return save(filepath.Join(s.dir, adaptersFile), s.adapters)
}

func (s *Store) ListAdapters(_ context.Context) ([]model.AdapterRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AdapterRegistration, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) DeleteAdapter(_ context.Context, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.adapters, packageID)
	return save(filepath.Join(s.dir, adaptersFile), s.adapters)
}

func (s *Store) Close() error { return nil }
