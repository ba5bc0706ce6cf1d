// Package model defines the daemon's core data types: the jobs that flow
// through the pending queue and active set, the capability a job targets,
// and the records the repository persists across restarts.
package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Account is an opaque handle to the identity a sync job runs on behalf of.
// The daemon never interprets its fields; it only uses them to key jobs,
// capabilities and persisted status.
type Account struct {
	Name      string `json:"name"`
	Authority string `json:"authority"`
}

func (a Account) String() string {
	return a.Name + ":" + a.Authority
}

// Capability names an (account, authority, package) triple the daemon can
// schedule sync jobs against. One capability is registered per adapter
// package per account the first time that package asks to sync it.
type Capability struct {
	Account   Account `json:"account"`
	PackageID string  `json:"package_id"`
}

// Key returns the stable string used to index a capability in maps and the
// repository.
func (c Capability) Key() string {
	return c.Account.Name + "\x1f" + c.Account.Authority + "\x1f" + c.PackageID
}

// Source identifies what produced a SyncJob.
type Source string

const (
	SourcePeriodic   Source = "periodic"
	SourceOnDemand   Source = "on_demand"
	SourceDataChange Source = "data_change"
)

// Well-known Extras keys the daemon itself reads; everything else passes
// through to the adapter opaquely.
const (
	ExtraNoRetry        = "no_retry"
	ExtraSyncExpedited  = "sync_expedited"
	ExtraIgnoreBackoff  = "SYNC_OPTION_IGNORE_BACKOFF"
	ExtraIgnoreSettings = "SYNC_OPTION_IGNORE_SETTINGS"
	ExtraUpload         = "SYNC_OPTION_UPLOAD"
	ExtraInitialize     = "SYNC_OPTION_INITIALIZE"
)

// Extras is a flat string bundle an adapter attaches to a job and receives
// back verbatim when the job is dispatched. Extras play no part in the
// JobKey: two on-demand requests for the same capability share one queue
// slot whatever their extras.
type Extras map[string]string

// Bool reads one of the well-known boolean extras: present with value
// "true" means true, anything else (including absence) means false.
func (e Extras) Bool(key string) bool {
	return e[key] == "true"
}

// Fingerprint returns a stable digest of the bundle's contents. It is not
// part of the JobKey; the dispatcher uses it to name periodic schedules.
func (e Extras) Fingerprint() string {
	if len(e) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e[k])
		b.WriteByte(';')
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// JobKey uniquely identifies a queued or active sync job for conflict and
// dedup purposes: the owning account and capability, or — for account-less
// jobs — just the owning package. Two on-demand requests against the same
// capability collide on this key regardless of what extras they carry.
type JobKey struct {
	Capability Capability `json:"capability"`
}

func (k JobKey) String() string {
	acct := k.Capability.Account
	if acct.Name == "" && acct.Authority == "" {
		return "id:" + k.Capability.PackageID
	}
	return fmt.Sprintf("id:%sname:%scapability:%s", acct.Name, acct.Authority, k.Capability.PackageID)
}

// SyncJob is a unit of work waiting in the pending queue, or currently
// running in the active set.
type SyncJob struct {
	Key              JobKey    `json:"key"`
	Source           Source    `json:"source"`
	Extras           Extras    `json:"extras"`
	Fingerprint      string    `json:"fingerprint"` // digest of Extras, carried on the job, not part of Key
	Expedited        bool      `json:"expedited"`   // front-of-queue ordering (extras: sync_expedited)
	IgnoreBackoff    bool      `json:"ignore_backoff"` // extras: SYNC_OPTION_IGNORE_BACKOFF
	FlexMillis       int64     `json:"flex_millis"`    // periodic jobs only: width of the run-time window
	RunByMillis      int64     `json:"run_by_millis"`  // latest_run_time_ms: requested earliest run
	DelayUntilMillis int64     `json:"delay_until_millis"`
	BackoffMillis    int64     `json:"backoff_millis"` // capability's current backoff, mirrored in from the backoff engine
	QueuedAt         time.Time `json:"queued_at"`
	RetryCount       int       `json:"retry_count"`
	SourceJobID      int       `json:"source_job_id"` // stable id from PeriodicSyncJob/DataChangeSyncJob, 0 for on-demand
}

// EffectiveRunTimeMillis is the earliest epoch-millis instant at which this
// job may be dispatched: ignore_backoff short-circuits to the requested run
// time, otherwise the later of the requested run time, any delay-until
// floor, and the capability's current backoff.
func (j *SyncJob) EffectiveRunTimeMillis() int64 {
	if j.IgnoreBackoff {
		return j.RunByMillis
	}
	eff := j.RunByMillis
	if j.DelayUntilMillis > eff {
		eff = j.DelayUntilMillis
	}
	if j.BackoffMillis > eff {
		eff = j.BackoffMillis
	}
	return eff
}

// DispatchOrderKey is the ascending sort key the pending queue orders jobs
// by within a priority class: max(effective_run_time - flex, 0).
func (j *SyncJob) DispatchOrderKey() int64 {
	k := j.EffectiveRunTimeMillis() - j.FlexMillis
	if k < 0 {
		return 0
	}
	return k
}

// PeriodicSyncJob is a standing schedule: run this capability every Period,
// jittered somewhere inside [runtime-Flex, runtime].
type PeriodicSyncJob struct {
	ID         int           `json:"id"`
	Capability Capability    `json:"capability"`
	Extras     Extras        `json:"extras"`
	Period     time.Duration `json:"period"`
	Flex       time.Duration `json:"flex"`
	// LastRunMillis is the wall-clock instant this schedule last produced a
	// job; zero means never run.
	LastRunMillis int64 `json:"last_run_millis"`
}

// NextWindow returns the [earliest, latest] epoch-millis window in which
// this schedule is next ripe to run, anchored off lastRun.
func (p *PeriodicSyncJob) NextWindow(lastRunMillis int64) (earliest, latest int64) {
	periodMs := p.Period.Milliseconds()
	flexMs := p.Flex.Milliseconds()
	latest = lastRunMillis + periodMs
	earliest = latest - flexMs
	if earliest < lastRunMillis {
		earliest = lastRunMillis
	}
	return earliest, latest
}

// DataChangeSyncJob binds a capability to a namespace/authority URI whose
// mutation should enqueue a sync. The data-change scheduler fans one
// content-changed signal out to every DataChangeSyncJob registered for that
// URI.
type DataChangeSyncJob struct {
	ID         int        `json:"id"`
	Capability Capability `json:"capability"`
	Extras     Extras     `json:"extras"`
	URI        string     `json:"uri"`
}

// AdapterRegistration records which service owns sync jobs for a package.
type AdapterRegistration struct {
	PackageID    string `json:"package_id"`
	ServiceAppID string `json:"service_app_id"`
	AllowParallel bool  `json:"allow_parallel_sync"`
}

// SyncResult is what an adapter reports back after running a dispatched
// job.
type SyncResult struct {
	Key       JobKey    `json:"key"`
	Succeeded bool      `json:"succeeded"`
	Reason    string    `json:"reason,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// CapabilityStatus is the persisted history for one capability: last run
// outcome and counters, independent of whatever jobs happen to be queued
// or active right now.
type CapabilityStatus struct {
	Capability        Capability `json:"capability"`
	LastSuccessMillis int64      `json:"last_success_millis"`
	LastFailureMillis int64      `json:"last_failure_millis"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
	TotalSuccesses    int64      `json:"total_successes"`
	TotalFailures     int64      `json:"total_failures"`
	PendingCount      int        `json:"pending_count"`
	Active            bool       `json:"active"`
	SyncAutomatically bool       `json:"sync_automatically"`
}

// JobsSnapshot is the read-only view handed back to API callers describing
// everything the dispatcher currently knows about a capability.
type JobsSnapshot struct {
	Pending []SyncJob        `json:"pending"`
	Active  []SyncJob        `json:"active"`
	Status  CapabilityStatus `json:"status"`
}
