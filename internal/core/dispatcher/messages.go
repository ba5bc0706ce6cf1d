package dispatcher

import (
	"time"

	"github.com/syncd/syncd/internal/core/model"
)

// Message is the sum type every producer goroutine sends on the
// dispatcher's single inbound channel. The dispatcher's run loop is the
// only goroutine that ever mutates core state; everything else only
// constructs and sends a Message.
type Message interface {
	isMessage()
}

// NewJobMsg asks the dispatcher to enqueue a sync job.
type NewJobMsg struct {
	Job model.SyncJob
}

// RemoveJobMsg asks the dispatcher to cancel a specific pending or active job.
type RemoveJobMsg struct {
	Key model.JobKey
}

// AlarmMsg is the periodic heartbeat: re-evaluate periodic schedules and
// try to start the next eligible pending job.
type AlarmMsg struct {
	FiredAt time.Time
}

// WatchdogTimeoutMsg reports that an active job's watchdog fired without a
// matching FinishedMsg.
type WatchdogTimeoutMsg struct {
	Key model.JobKey
}

// FinishedMsg reports an adapter's outcome for a job it was running.
type FinishedMsg struct {
	Result model.SyncResult
}

// PackageUninstalledMsg asks the dispatcher to forget everything belonging
// to packageID: pending jobs, active jobs, schedules, registration.
type PackageUninstalledMsg struct {
	PackageID string
}

// ConstraintChangedMsg notifies the dispatcher that a gating condition
// changed and it's worth re-attempting dispatch (e.g. network reconnect).
type ConstraintChangedMsg struct {
	Reconnected bool
}

// SetSyncStatusMsg toggles whether a capability may be scheduled
// automatically.
type SetSyncStatusMsg struct {
	Capability model.Capability
	Enabled    bool
}

// RegisterAdapterMsg registers (or re-registers) the adapter owning a package.
type RegisterAdapterMsg struct {
	Registration model.AdapterRegistration
}

// RegisterPeriodicMsg registers a standing schedule.
type RegisterPeriodicMsg struct {
	Job model.PeriodicSyncJob
	Result chan<- int // receives the assigned schedule id
}

// RegisterDataChangeMsg registers a data-change binding.
type RegisterDataChangeMsg struct {
	Job    model.DataChangeSyncJob
	Result chan<- int
}

// DataChangedMsg reports that uri's content mutated.
type DataChangedMsg struct {
	URI string
}

// SnapshotMsg asks the dispatcher to report everything it knows about a
// capability, replying on Result.
type SnapshotMsg struct {
	Capability model.Capability
	Result     chan<- model.JobsSnapshot
}

// ShutdownMsg asks the dispatcher's run loop to exit.
type ShutdownMsg struct {
	Done chan<- struct{}
}

func (NewJobMsg) isMessage()            {}
func (RemoveJobMsg) isMessage()         {}
func (AlarmMsg) isMessage()             {}
func (WatchdogTimeoutMsg) isMessage()   {}
func (FinishedMsg) isMessage()          {}
func (PackageUninstalledMsg) isMessage(){}
func (ConstraintChangedMsg) isMessage() {}
func (SetSyncStatusMsg) isMessage()     {}
func (RegisterAdapterMsg) isMessage()   {}
func (RegisterPeriodicMsg) isMessage()  {}
func (RegisterDataChangeMsg) isMessage(){}
func (DataChangedMsg) isMessage()       {}
func (SnapshotMsg) isMessage()          {}
func (ShutdownMsg) isMessage()          {}
