// Package pgstore is a Postgres-backed repository.Store for deployments
// that would rather keep daemon state alongside the rest of their
// database than manage a separate JSON store directory.
package pgstore

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/syncd/syncd/internal/core/model"
)

// capabilityRow is the gorm row backing a registered capability.
type capabilityRow struct {
	Key       string `gorm:"primaryKey;size:600"`
	Name      string `gorm:"size:255;not null"`
	Authority string `gorm:"size:255;not null"`
	PackageID string `gorm:"size:255;not null;index"`
}

func (capabilityRow) TableName() string { return "sync_capabilities" }

// statusRow is the gorm row backing a capability's status history.
type statusRow struct {
	Key               string `gorm:"primaryKey;size:600"`
	PackageID         string `gorm:"size:255;not null;index"`
	LastSuccessMillis int64
	LastFailureMillis int64
	LastFailureReason string `gorm:"size:1000"`
	TotalSuccesses    int64
	TotalFailures     int64
	SyncAutomatically bool
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (statusRow) TableName() string { return "sync_status" }

// adapterRow is the gorm row backing an adapter registration.
type adapterRow struct {
	PackageID     string `gorm:"primaryKey;size:255"`
	ServiceAppID  string `gorm:"size:255;not null"`
	AllowParallel bool
}

func (adapterRow) TableName() string { return "sync_adapters" }

// Store is a Postgres-backed repository.Store.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres at dsn and migrates the daemon's tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&capabilityRow{}, &statusRow{}, &adapterRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveCapability(ctx context.Context, cap model.Capability) error {
	row := capabilityRow{
		Key:       cap.Key(),
		Name:      cap.Account.Name,
		Authority: cap.Account.Authority,
		PackageID: cap.PackageID,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, UpdateAll: true}).
		Create(&row).Error
}

func (s *Store) ListCapabilities(ctx context.Context) ([]model.Capability, error) {
	var rows []capabilityRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Capability, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Capability{
			Account:   model.Account{Name: r.Name, Authority: r.Authority},
			PackageID: r.PackageID,
		})
	}
	return out, nil
}

func (s *Store) DeleteCapabilitiesForPackage(ctx context.Context, packageID string) error {
	return s.db.WithContext(ctx).Where("package_id = ?", packageID).Delete(&capabilityRow{}).Error
}

func (s *Store) SaveStatus(ctx context.Context, status model.CapabilityStatus) error {
	row := statusRow{
		Key:               status.Capability.Key(),
		PackageID:         status.Capability.PackageID,
		LastSuccessMillis: status.LastSuccessMillis,
		LastFailureMillis: status.LastFailureMillis,
		LastFailureReason: status.LastFailureReason,
		TotalSuccesses:    status.TotalSuccesses,
		TotalFailures:     status.TotalFailures,
		SyncAutomatically: status.SyncAutomatically,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, UpdateAll: true}).
		Create(&row).Error
}

func (s *Store) GetStatus(ctx context.Context, cap model.Capability) (model.CapabilityStatus, error) {
	var row statusRow
	err := s.db.WithContext(ctx).Where("key = ?", cap.Key()).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return model.CapabilityStatus{Capability: cap}, nil
	}
	if err != nil {
		return model.CapabilityStatus{}, err
	}
	return model.CapabilityStatus{
		Capability:        cap,
		LastSuccessMillis: row.LastSuccessMillis,
		LastFailureMillis: row.LastFailureMillis,
		LastFailureReason: row.LastFailureReason,
		TotalSuccesses:    row.TotalSuccesses,
		TotalFailures:     row.TotalFailures,
		SyncAutomatically: row.SyncAutomatically,
	}, nil
}

func (s *Store) ListStatuses(ctx context.Context) ([]model.CapabilityStatus, error) {
	var rows []statusRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.CapabilityStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.CapabilityStatus{
			Capability:        model.Capability{PackageID: r.PackageID},
			LastSuccessMillis: r.LastSuccessMillis,
			LastFailureMillis: r.LastFailureMillis,
			LastFailureReason: r.LastFailureReason,
			TotalSuccesses:    r.TotalSuccesses,
			TotalFailures:     r.TotalFailures,
			SyncAutomatically: r.SyncAutomatically,
		})
	}
	return out, nil
}

func (s *Store) DeleteStatusForPackage(ctx context.Context, packageID string) error {
	return s.db.WithContext(ctx).Where("package_id = ?", packageID).Delete(&statusRow{}).Error
}

func (s *Store) SaveAdapter(ctx context.Context, reg model.AdapterRegistration) error {
	row := adapterRow{PackageID: reg.PackageID, ServiceAppID: reg.ServiceAppID, AllowParallel: reg.AllowParallel}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "package_id"}}, UpdateAll: true}).
		Create(&row).Error
}

func (s *Store) ListAdapters(ctx context.Context) ([]model.AdapterRegistration, error) {
	var rows []adapterRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.AdapterRegistration, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AdapterRegistration{PackageID: r.PackageID, ServiceAppID: r.ServiceAppID, AllowParallel: r.AllowParallel})
	}
	return out, nil
}

func (s *Store) DeleteAdapter(ctx context.Context, packageID string) error {
	return s.db.WithContext(ctx).Where("package_id = ?", packageID).Delete(&adapterRow{}).Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
