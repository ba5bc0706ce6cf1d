// Package repository defines the persistence boundary: the daemon's
// durable state is exactly the registered capabilities, their sync status
// history, and the adapter registry. Pending and active jobs are
// intentionally not part of this interface — they do not survive a
// restart, matching how a freshly started daemon starts with an empty
// queue and lets its periodic and data-change schedulers repopulate it.
package repository

import (
	"context"

	"github.com/syncd/syncd/internal/core/model"
)

// Store is the persistence interface the daemon's core depends on.
// Two backends implement it: filestore (JSON files, the default) and
// pgstore (Postgres via gorm, for deployments that already run a database
// for everything else).
type Store interface {
	// SaveCapability upserts a capability registration.
	SaveCapability(ctx context.Context, cap model.Capability) error
	// ListCapabilities returns every registered capability.
	ListCapabilities(ctx context.Context) ([]model.Capability, error)
	// DeleteCapabilitiesForPackage removes every capability owned by packageID.
	DeleteCapabilitiesForPackage(ctx context.Context, packageID string) error

	// SaveStatus upserts a capability's status record.
	SaveStatus(ctx context.Context, status model.CapabilityStatus) error
	// GetStatus returns the status record for cap, or the zero value if none exists.
	GetStatus(ctx context.Context, cap model.Capability) (model.CapabilityStatus, error)
	// ListStatuses returns every persisted status record.
	ListStatuses(ctx context.Context) ([]model.CapabilityStatus, error)
	// DeleteStatusForPackage removes every status record owned by packageID.
	DeleteStatusForPackage(ctx context.Context, packageID string) error

	// SaveAdapter upserts an adapter registration.
	SaveAdapter(ctx context.Context, reg model.AdapterRegistration) error
	// ListAdapters returns every persisted adapter registration.
	ListAdapters(ctx context.Context) ([]model.AdapterRegistration, error)
	// DeleteAdapter removes the registration for packageID.
	DeleteAdapter(ctx context.Context, packageID string) error

	// Close releases any resources the backend holds open.
	Close() error
}
