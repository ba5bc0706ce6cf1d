package facade

import (
	"time"

	"github.com/syncd/syncd/internal/core/dispatcher"
	"github.com/syncd/syncd/internal/core/model"
)

// Facade is the daemon's external interface. Every method is safe to call
// from any number of goroutines; each translates its call into one or more
// Messages sent to the Dispatcher's event loop.
type Facade struct {
	d *dispatcher.Dispatcher
}

// New wraps a running Dispatcher.
func New(d *dispatcher.Dispatcher) *Facade {
	return &Facade{d: d}
}

// RegisterSyncAdapter announces that serviceURL owns sync jobs for
// packageID. Idempotent: re-registering replaces the prior registration.
func (f *Facade) RegisterSyncAdapter(packageID, serviceURL string, allowParallel bool) {
	f.d.Send(dispatcher.RegisterAdapterMsg{Registration: model.AdapterRegistration{
		PackageID:     packageID,
		ServiceAppID:  serviceURL,
		AllowParallel: allowParallel,
	}})
}

// AddOnDemandSyncJob enqueues a user- or adapter-initiated sync. expedited
// jobs go to the front of the queue and skip every constraint check except
// the global sync-permitted switch; backoff is bypassed only when extras
// set SYNC_OPTION_IGNORE_BACKOFF.
func (f *Facade) AddOnDemandSyncJob(cap model.Capability, extras model.Extras, expedited bool) model.JobKey {
	key := model.JobKey{Capability: cap}
	f.d.Send(dispatcher.NewJobMsg{Job: model.SyncJob{
		Key:           key,
		Source:        model.SourceOnDemand,
		Extras:        extras,
		Fingerprint:   extras.Fingerprint(),
		Expedited:     expedited || extras.Bool(model.ExtraSyncExpedited),
		IgnoreBackoff: extras.Bool(model.ExtraIgnoreBackoff),
		QueuedAt:      time.Now(),
	}})
	return key
}

// AddPeriodicSyncJob registers a standing schedule and returns its
// assigned id, stable for the lifetime of the adapter's registration.
func (f *Facade) AddPeriodicSyncJob(cap model.Capability, extras model.Extras, period, flex time.Duration) int {
	result := make(chan int, 1)
	f.d.Send(dispatcher.RegisterPeriodicMsg{
		Job: model.PeriodicSyncJob{
			Capability: cap,
			Extras:     extras,
			Period:     period,
			Flex:       flex,
		},
		Result: result,
	})
	return <-result
}

// AddDataChangeSyncJob binds cap to uri: whenever DataChanged(uri) fires,
// this capability enqueues a job.
func (f *Facade) AddDataChangeSyncJob(cap model.Capability, extras model.Extras, uri string) int {
	result := make(chan int, 1)
	f.d.Send(dispatcher.RegisterDataChangeMsg{
		Job: model.DataChangeSyncJob{
			Capability: cap,
			Extras:     extras,
			URI:        uri,
		},
		Result: result,
	})
	return <-result
}

// RemoveSyncJob cancels a specific pending or active job by key.
func (f *Facade) RemoveSyncJob(key model.JobKey) {
	f.d.Send(dispatcher.RemoveJobMsg{Key: key})
}

// GetAllSyncJobs returns everything the dispatcher knows about cap:
// pending jobs, active jobs, and persisted status history.
func (f *Facade) GetAllSyncJobs(cap model.Capability) model.JobsSnapshot {
	result := make(chan model.JobsSnapshot, 1)
	f.d.Send(dispatcher.SnapshotMsg{Capability: cap, Result: result})
	return <-result
}

// SetSyncStatus enables or disables automatic scheduling for cap.
func (f *Facade) SetSyncStatus(cap model.Capability, enabled bool) {
	f.d.Send(dispatcher.SetSyncStatusMsg{Capability: cap, Enabled: enabled})
}

// NotifyDataChanged reports that uri's content mutated, fanning out to
// every registered data-change binding.
func (f *Facade) NotifyDataChanged(uri string) {
	f.d.Send(dispatcher.DataChangedMsg{URI: uri})
}

// NotifyPackageUninstalled releases every resource packageID owns.
func (f *Facade) NotifyPackageUninstalled(packageID string) {
	f.d.Send(dispatcher.PackageUninstalledMsg{PackageID: packageID})
}

// ReportResult is how an adapter tells the daemon a dispatched job
// finished. Delivered to the facade's HTTP handler as the body of the
// adapter's callback request.
func (f *Facade) ReportResult(result model.SyncResult) {
	f.d.Send(dispatcher.FinishedMsg{Result: result})
}

// ReportConstraintChange is how signal producers (network, battery,
// storage) tell the dispatcher a gating condition changed.
func (f *Facade) ReportConstraintChange(reconnected bool) {
	f.d.Send(dispatcher.ConstraintChangedMsg{Reconnected: reconnected})
}

