// Package dispatcher implements the daemon's single-threaded cooperative
// event loop: the one goroutine that owns the pending queue, active job
// set, schedulers, backoff engine and registry, serialized by a single
// inbound message channel so none of those collaborators need their own
// locking discipline beyond what they already provide for read-only
// snapshot access from other goroutines.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/syncd/syncd/internal/core/active"
	"github.com/syncd/syncd/internal/core/backoff"
	"github.com/syncd/syncd/internal/core/clock"
	"github.com/syncd/syncd/internal/core/constraint"
	"github.com/syncd/syncd/internal/core/datachange"
	"github.com/syncd/syncd/internal/core/jobid"
	"github.com/syncd/syncd/internal/core/model"
	"github.com/syncd/syncd/internal/core/periodic"
	"github.com/syncd/syncd/internal/core/queue"
	"github.com/syncd/syncd/internal/core/registry"
	"github.com/syncd/syncd/internal/core/repository"
)

// AdapterClient delivers a start-sync request to the service that owns a
// package's sync jobs. Dispatch must not block waiting for the job to
// finish: adapters report completion later and asynchronously, through
// whatever channel the facade exposes for that.
type AdapterClient interface {
	Dispatch(ctx context.Context, reg model.AdapterRegistration, job model.SyncJob) error
	Cancel(ctx context.Context, reg model.AdapterRegistration, key model.JobKey) error
}

// ActivityRecorder receives a terse note every time the dispatcher makes a
// scheduling decision, for the facade's recent-activity feed.
type ActivityRecorder interface {
	Record(note string)
}

type noopActivity struct{}

func (noopActivity) Record(string) {}

// Config tunes dispatcher behavior.
type Config struct {
	HeartbeatCronSchedule string
	WatchdogTimeout       time.Duration
	MaxConcurrentJobs     int
	GlobalRateLimit       rate.Limit
	GlobalRateBurst       int
	IdleShutdownAfter     time.Duration
	RandomOffsetMillis    int64

	// MaxInitJobs and MaxRegularJobs split the active set's capacity
	// between SYNC_OPTION_INITIALIZE jobs and everything else (spec
	// §4.8: n_init<2, n_regular<10).
	MaxInitJobs    int
	MaxRegularJobs int

	// LongRunningAfter is how long an active job may run before it
	// becomes eligible for preemption by a higher-priority candidate
	// (spec §4.8: start_time + 5min < now).
	LongRunningAfter time.Duration

	// RetryDelay is how far in the future try_to_reschedule places a
	// failed job's new latest_run_time (spec §4.10: 10s).
	RetryDelay time.Duration
}

// Metrics are the dispatcher's prometheus instruments. These describe
// operational health of the daemon itself (queue depth, dispatch counts),
// never data about any individual job's payload.
type Metrics struct {
	PendingGauge prometheus.Gauge
	ActiveGauge  prometheus.Gauge
	Dispatched   prometheus.Counter
	Succeeded    prometheus.Counter
	Failed       prometheus.Counter
	Deferred     prometheus.Counter
}

// NewMetrics registers the dispatcher's instruments against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{Name: "syncd_pending_jobs", Help: "Jobs currently queued."}),
		ActiveGauge:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "syncd_active_jobs", Help: "Jobs currently dispatched to an adapter."}),
		Dispatched:   prometheus.NewCounter(prometheus.CounterOpts{Name: "syncd_jobs_dispatched_total", Help: "Jobs handed to an adapter."}),
		Succeeded:    prometheus.NewCounter(prometheus.CounterOpts{Name: "syncd_jobs_succeeded_total", Help: "Jobs reported successful."}),
		Failed:       prometheus.NewCounter(prometheus.CounterOpts{Name: "syncd_jobs_failed_total", Help: "Jobs reported failed."}),
		Deferred:     prometheus.NewCounter(prometheus.CounterOpts{Name: "syncd_jobs_deferred_total", Help: "Dispatch attempts deferred by a constraint or backoff."}),
	}
	reg.MustRegister(m.PendingGauge, m.ActiveGauge, m.Dispatched, m.Succeeded, m.Failed, m.Deferred)
	return m
}

// Dispatcher is the daemon's scheduling core.
type Dispatcher struct {
	cfg    Config
	clk    clock.Clock
	logger zerolog.Logger

	queue      *queue.Queue
	active     *active.Set
	periodic   *periodic.Scheduler
	datachange *datachange.Scheduler
	backoff    *backoff.Engine
	oracle     *constraint.Oracle
	registry   *registry.Registry
	jobIDs     *jobid.Aggregator
	store      repository.Store
	adapters   AdapterClient
	activity   ActivityRecorder
	limiter    *rate.Limiter
	metrics    *Metrics

	msgCh     chan Message
	cron      *cron.Cron
	done      chan struct{}
	idleTimer *time.Timer
}

// New constructs a Dispatcher. Call Run in its own goroutine to start the
// event loop, and Send to deliver messages to it from anywhere else.
func New(cfg Config, clk clock.Clock, store repository.Store, adapters AdapterClient, oracle *constraint.Oracle, activity ActivityRecorder, metrics *Metrics, logger zerolog.Logger) *Dispatcher {
	if activity == nil {
		activity = noopActivity{}
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 5
	}
	if cfg.GlobalRateLimit == 0 {
		cfg.GlobalRateLimit = rate.Every(time.Second)
	}
	if cfg.GlobalRateBurst <= 0 {
		cfg.GlobalRateBurst = cfg.MaxConcurrentJobs
	}
	if cfg.MaxInitJobs <= 0 {
		cfg.MaxInitJobs = 2
	}
	if cfg.MaxRegularJobs <= 0 {
		cfg.MaxRegularJobs = 10
	}
	if cfg.LongRunningAfter <= 0 {
		cfg.LongRunningAfter = 5 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}

	d := &Dispatcher{
		cfg:        cfg,
		clk:        clk,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
		queue:      queue.New(),
		active:     active.New(clk, cfg.WatchdogTimeout),
		periodic:   periodic.New(clk, cfg.RandomOffsetMillis, oracle.ProviderSettings()),
		datachange: datachange.New(),
		backoff:    backoff.New(backoff.DefaultConfig(), clk),
		oracle:     oracle,
		registry:   registry.New(),
		jobIDs:     jobid.NewAggregator(),
		store:      store,
		adapters:   adapters,
		activity:   activity,
		limiter:    rate.NewLimiter(cfg.GlobalRateLimit, cfg.GlobalRateBurst),
		metrics:    metrics,
		msgCh:      make(chan Message, 256),
		done:       make(chan struct{}),
	}
	return d
}

// Send delivers a message to the dispatcher's run loop. Safe to call from
// any goroutine.
func (d *Dispatcher) Send(msg Message) {
	d.msgCh <- msg
}

// Hydrate loads persisted capabilities, status and adapter registrations
// from the store into memory. Call once before Run.
func (d *Dispatcher) Hydrate(ctx context.Context) error {
	adapters, err := d.store.ListAdapters(ctx)
	if err != nil {
		return fmt.Errorf("hydrate adapters: %w", err)
	}
	for _, a := range adapters {
		d.registry.Register(a)
	}

	statuses, err := d.store.ListStatuses(ctx)
	if err != nil {
		return fmt.Errorf("hydrate statuses: %w", err)
	}
	for _, st := range statuses {
		d.oracle.RestoreProviderSetting(st.Capability.Account.String(), st.SyncAutomatically)
	}
	return nil
}

// Run starts the heartbeat cron and processes messages until Shutdown.
// It blocks until the loop exits, so callers run it in its own goroutine.
func (d *Dispatcher) Run() {
	d.cron = cron.New(cron.WithSeconds())
	_, err := d.cron.AddFunc(normalizeSchedule(d.cfg.HeartbeatCronSchedule), func() {
		d.Send(AlarmMsg{FiredAt: d.clk.Now()})
	})
	if err != nil {
		d.logger.Error().Err(err).Msg("invalid heartbeat schedule, falling back to every minute")
		d.cron.AddFunc("0 * * * * *", func() { d.Send(AlarmMsg{FiredAt: d.clk.Now()}) })
	}
	d.cron.Start()
	defer d.cron.Stop()

	d.resetIdleTimer()
	for msg := range d.msgCh {
		d.handleSafely(msg)
		if _, isShutdown := msg.(ShutdownMsg); isShutdown {
			return
		}
	}
}

// normalizeSchedule upgrades a five-field cron expression to the six-field
// (seconds-first) form cron.WithSeconds expects, since operators are more
// likely to write the familiar five-field form in configuration.
func normalizeSchedule(expr string) string {
	fields := 1
	for _, r := range expr {
		if r == ' ' {
			fields++
		}
	}
	if fields == 5 {
		return "0 " + expr
	}
	return expr
}

func (d *Dispatcher) handleSafely(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			d.logger.Error().Interface("panic", r).Msg("recovered panic in dispatcher loop")
		}
	}()
	d.handle(msg)
}

func (d *Dispatcher) handle(msg Message) {
	d.resetIdleTimer()
	ctx := context.Background()

	switch m := msg.(type) {
	case NewJobMsg:
		d.enqueue(m.Job)
		d.tryStartNext(ctx)

	case RemoveJobMsg:
		if _, ok := d.queue.RemoveByKey(m.Key); ok {
			d.activity.Record(fmt.Sprintf("removed pending job %s", m.Key))
		}
		if job, ok := d.active.Finish(m.Key); ok {
			d.activity.Record(fmt.Sprintf("cancelled active job %s", m.Key))
			if reg, err := d.registry.Lookup(job.Key.Capability.PackageID); err == nil {
				go func() {
					_ = d.adapters.Cancel(ctx, reg, job.Key)
				}()
			}
		}

	case AlarmMsg:
		for _, job := range d.periodic.Ripe() {
			d.enqueue(job)
		}
		d.tryStartNext(ctx)
		d.rescheduleAlarmIfNeeded()

	case WatchdogTimeoutMsg:
		if job, ok := d.active.Finish(m.Key); ok {
			d.logger.Warn().Str("job", m.Key.String()).Msg("watchdog timeout, treating job as failed")
			d.onJobOutcome(ctx, job, false, "watchdog timeout")
		}
		d.tryStartNext(ctx)

	case FinishedMsg:
		if job, ok := d.active.Finish(m.Result.Key); ok {
			d.onJobOutcome(ctx, job, m.Result.Succeeded, m.Result.Reason)
		}
		d.tryStartNext(ctx)

	case PackageUninstalledMsg:
		d.queue.RemoveByPackage(m.PackageID)
		for _, job := range d.active.Snapshot() {
			if job.Key.Capability.PackageID != m.PackageID {
				continue
			}
			d.active.Finish(job.Key)
			if reg, err := d.registry.Lookup(m.PackageID); err == nil {
				go func(key model.JobKey) {
					_ = d.adapters.Cancel(ctx, reg, key)
				}(job.Key)
			}
		}
		d.periodic.RemoveByPackage(m.PackageID)
		d.datachange.RemoveByPackage(m.PackageID)
		d.registry.Unregister(m.PackageID)
		d.jobIDs.ReleaseAllForPackage(m.PackageID)
		_ = d.store.DeleteCapabilitiesForPackage(ctx, m.PackageID)
		_ = d.store.DeleteStatusForPackage(ctx, m.PackageID)
		_ = d.store.DeleteAdapter(ctx, m.PackageID)

	case ConstraintChangedMsg:
		if m.Reconnected {
			d.backoff.ClearAll()
			d.queue.ClearAllBackoff()
			d.activity.Record("network reconnected, cleared all backoffs")
		}
		d.tryStartNext(ctx)

	case SetSyncStatusMsg:
		status, _ := d.store.GetStatus(ctx, m.Capability)
		status.Capability = m.Capability
		status.SyncAutomatically = m.Enabled
		_ = d.store.SaveStatus(ctx, status)
		d.oracle.RestoreProviderSetting(m.Capability.Account.String(), m.Enabled)
		if !m.Enabled {
			d.queue.RemoveByCapability(m.Capability)
		}

	case RegisterAdapterMsg:
		d.registry.Register(m.Registration)
		_ = d.store.SaveAdapter(ctx, m.Registration)

	case RegisterPeriodicMsg:
		id, err := d.jobIDs.Allocate(m.Job.Capability.PackageID, periodicName(m.Job))
		if err == nil {
			m.Job.ID = id
			d.periodic.Register(m.Job)
			_ = d.store.SaveCapability(ctx, m.Job.Capability)
		}
		if m.Result != nil {
			m.Result <- id
		}
		d.rescheduleAlarmIfNeeded()

	case RegisterDataChangeMsg:
		id, err := d.jobIDs.Allocate(m.Job.Capability.PackageID, dataChangeName(m.Job))
		if err == nil {
			m.Job.ID = id
			d.datachange.Register(m.Job)
			_ = d.store.SaveCapability(ctx, m.Job.Capability)
		}
		if m.Result != nil {
			m.Result <- id
		}

	case DataChangedMsg:
		for _, job := range d.datachange.OnChange(m.URI) {
			d.enqueue(job)
		}
		d.tryStartNext(ctx)

	case SnapshotMsg:
		status, _ := d.store.GetStatus(ctx, m.Capability)
		snap := model.JobsSnapshot{
			Pending: d.queue.SnapshotForCapability(m.Capability),
			Active:  d.active.SnapshotForCapability(m.Capability),
			Status:  status,
		}
		snap.Status.PendingCount = len(snap.Pending)
		snap.Status.Active = len(snap.Active) > 0
		if m.Result != nil {
			m.Result <- snap
		}

	case ShutdownMsg:
		if m.Done != nil {
			close(m.Done)
		}
	}

	if d.metrics != nil {
		d.metrics.PendingGauge.Set(float64(d.queue.Len()))
		d.metrics.ActiveGauge.Set(float64(d.active.Len()))
	}
}

func periodicName(j model.PeriodicSyncJob) string {
	return "periodic:" + j.Capability.Key() + ":" + j.Extras.Fingerprint()
}

func dataChangeName(j model.DataChangeSyncJob) string {
	return "datachange:" + j.URI + ":" + j.Capability.Key()
}

func (d *Dispatcher) enqueue(job model.SyncJob) {
	if job.QueuedAt.IsZero() {
		job.QueuedAt = d.clk.Now()
	}
	if job.RunByMillis == 0 {
		job.RunByMillis = d.clk.NowMillis()
	}
	if job.Fingerprint == "" {
		job.Fingerprint = job.Extras.Fingerprint()
	}
	if !job.IgnoreBackoff {
		if nb := d.backoff.NotBefore(job.Key.Capability.Key()); !nb.IsZero() {
			job.BackoffMillis = nb.UnixMilli()
		}
	}

	switch d.queue.Add(job) {
	case queue.Inserted:
		d.activity.Record(fmt.Sprintf("queued %s job for %s", job.Source, job.Key.Capability.Key()))
	case queue.Replaced:
		d.activity.Record(fmt.Sprintf("replaced pending %s job for %s", job.Source, job.Key.Capability.Key()))
	case queue.Conflict:
		// An equal-or-better job is already pending for this key; drop.
	}
}

// tryStartNext repeatedly attempts to start the next eligible pending job
// until either the queue is empty or no remaining job can pass every
// gate: global concurrency, per-package parallelism, backoff, and the
// constraint oracle.
func (d *Dispatcher) tryStartNext(ctx context.Context) {
	for {
		if d.active.Len() >= d.cfg.MaxConcurrentJobs {
			return
		}
		job, ok := d.nextStartable(ctx)
		if !ok {
			return
		}
		d.start(ctx, job)
	}
}

// nextStartable implements spec §4.8's try_start_next: scan the pending
// queue in dispatch order, skip any job whose sliding window
// [effective_run_time-flex, effective_run_time] doesn't yet include now,
// then run the conflict/capacity/preemption decision tree against the
// active set for the first job whose window does.
func (d *Dispatcher) nextStartable(ctx context.Context) (model.SyncJob, bool) {
	now := d.clk.NowMillis()

	for _, job := range d.queue.Snapshot() {
		windowStart := job.EffectiveRunTimeMillis() - job.FlexMillis
		if windowStart < 0 {
			windowStart = 0
		}
		if now < windowStart {
			continue
		}

		reg, err := d.registry.Lookup(job.Key.Capability.PackageID)
		if err != nil {
			continue
		}
		if !job.IgnoreBackoff && d.backoff.IsBackedOff(job.Key.Capability.Key()) {
			continue
		}
		ok, _ := d.oracle.MayDispatch(job.Key.Capability.Account.String(), job.Expedited)
		if !ok {
			if d.metrics != nil {
				d.metrics.Deferred.Inc()
			}
			continue
		}
		if !d.limiter.Allow() {
			return model.SyncJob{}, false
		}

		if !d.admit(ctx, job, reg) {
			continue
		}
		if removed, ok := d.queue.RemoveByKey(job.Key); ok {
			return removed, true
		}
	}
	return model.SyncJob{}, false
}

// admit runs the conflict/capacity/preemption decision tree of spec §4.8
// against the current active set for one candidate job, preempting
// (cancelling) an active job in place if the candidate earns the slot.
// Returns whether job may be dispatched now.
func (d *Dispatcher) admit(ctx context.Context, job model.SyncJob, reg model.AdapterRegistration) bool {
	entries := d.active.SnapshotEntries()
	candidateInit := job.Extras.Bool(model.ExtraInitialize)

	var conflict *active.ActiveEntry
	var oldestNonExpReg *active.ActiveEntry
	var longRunning *active.ActiveEntry
	nInit, nRegular := 0, 0

	for i := range entries {
		e := entries[i]
		if e.Job.Key.Capability.PackageID == job.Key.Capability.PackageID {
			return false // already_in_progress: same app already running
		}

		eInit := e.Job.Extras.Bool(model.ExtraInitialize)
		if eInit {
			nInit++
		} else {
			nRegular++
		}
		if e.Job.Key == job.Key && !reg.AllowParallel {
			c := e
			conflict = &c
		}
		if !e.Job.Expedited && !eInit && (oldestNonExpReg == nil || e.StartedAt.Before(oldestNonExpReg.StartedAt)) {
			c := e
			oldestNonExpReg = &c
		}
		if eInit == candidateInit && e.StartedAt.Add(d.cfg.LongRunningAfter).Before(d.clk.Now()) {
			if longRunning == nil || e.StartedAt.Before(longRunning.StartedAt) {
				c := e
				longRunning = &c
			}
		}
	}

	capacityAvailable := nRegular < d.cfg.MaxRegularJobs
	if candidateInit {
		capacityAvailable = nInit < d.cfg.MaxInitJobs
	}

	switch {
	case conflict != nil:
		conflictInit := conflict.Job.Extras.Bool(model.ExtraInitialize)
		switch {
		case candidateInit && !conflictInit && nInit < d.cfg.MaxInitJobs:
			d.preempt(ctx, conflict.Job)
		case job.Expedited && !conflict.Job.Expedited && candidateInit == conflictInit:
			d.preempt(ctx, conflict.Job)
		default:
			return false
		}
	case capacityAvailable:
		// room available, fall through to dispatch
	case job.Expedited && oldestNonExpReg != nil && !candidateInit:
		d.preempt(ctx, oldestNonExpReg.Job)
	case longRunning != nil:
		d.preempt(ctx, longRunning.Job)
	default:
		return false
	}
	return true
}

// preempt cancels an already-active job to make room for a higher
// priority candidate: stops its watchdog, drops it from the active set,
// and tells its adapter to cancel (spec §4.8 "Reschedule").
func (d *Dispatcher) preempt(ctx context.Context, job model.SyncJob) {
	if _, ok := d.active.Finish(job.Key); !ok {
		return
	}
	d.activity.Record(fmt.Sprintf("preempted %s job for %s", job.Source, job.Key.Capability.Key()))
	if reg, err := d.registry.Lookup(job.Key.Capability.PackageID); err == nil {
		go func() {
			_ = d.adapters.Cancel(ctx, reg, job.Key)
		}()
	}
}

func (d *Dispatcher) start(ctx context.Context, job model.SyncJob) {
	reg, err := d.registry.Lookup(job.Key.Capability.PackageID)
	if err != nil {
		d.logger.Warn().Str("package", job.Key.Capability.PackageID).Msg("dropping job for unregistered package")
		return
	}

	d.active.Start(job, func(key model.JobKey) {
		d.Send(WatchdogTimeoutMsg{Key: key})
	})
	if d.metrics != nil {
		d.metrics.Dispatched.Inc()
	}
	d.activity.Record(fmt.Sprintf("dispatched %s job for %s", job.Source, job.Key.Capability.Key()))

	go func() {
		dispatchCtx, cancel := context.WithTimeout(ctx, d.cfg.WatchdogTimeout)
		defer cancel()
		if err := d.adapters.Dispatch(dispatchCtx, reg, job); err != nil {
			d.Send(FinishedMsg{Result: model.SyncResult{
				Key:        job.Key,
				Succeeded:  false,
				Reason:     err.Error(),
				FinishedAt: d.clk.Now(),
			}})
		}
	}()
}

func (d *Dispatcher) onJobOutcome(ctx context.Context, job model.SyncJob, succeeded bool, reason string) {
	cap := job.Key.Capability
	status, _ := d.store.GetStatus(ctx, cap)
	status.Capability = cap
	now := d.clk.NowMillis()
	if succeeded {
		status.LastSuccessMillis = now
		status.TotalSuccesses++
		d.backoff.OnSuccess(cap.Key())
		d.queue.OnBackoffChanged(cap, 0)
		if d.metrics != nil {
			d.metrics.Succeeded.Inc()
		}
	} else {
		status.LastFailureMillis = now
		status.LastFailureReason = reason
		status.TotalFailures++
		notBefore := d.backoff.OnFailure(cap.Key())
		d.queue.OnBackoffChanged(cap, notBefore.UnixMilli())
		d.activity.Record(fmt.Sprintf("job %s failed (%s), backed off until %s", job.Key, reason, notBefore.Format(time.RFC3339)))
		if d.metrics != nil {
			d.metrics.Failed.Inc()
		}
		d.tryToReschedule(job)
	}
	_ = d.store.SaveStatus(ctx, status)
}

// tryToReschedule implements spec §4.10: a failed job gets one more try
// 10s out, carrying its remaining fields forward, unless its extras asked
// for no_retry or its owning package is no longer registered.
func (d *Dispatcher) tryToReschedule(job model.SyncJob) {
	if job.Extras.Bool(model.ExtraNoRetry) {
		return
	}
	if _, err := d.registry.Lookup(job.Key.Capability.PackageID); err != nil {
		return
	}

	retry := job
	retry.RunByMillis = d.clk.NowMillis() + d.cfg.RetryDelay.Milliseconds()
	retry.DelayUntilMillis = 0
	retry.QueuedAt = time.Time{}
	retry.RetryCount = job.RetryCount + 1
	d.enqueue(retry)
}

// rescheduleAlarmIfNeeded is a no-op placeholder for the precise one-shot
// timer the cron heartbeat approximates; the heartbeat already guarantees
// periodic re-evaluation at least once per tick, so a missed flex window
// is bounded by the heartbeat period rather than left unbounded.
func (d *Dispatcher) rescheduleAlarmIfNeeded() {}

func (d *Dispatcher) resetIdleTimer() {
	if d.cfg.IdleShutdownAfter <= 0 {
		return
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.cfg.IdleShutdownAfter, func() {
		if d.queue.Len() == 0 && d.active.Len() == 0 {
			d.logger.Info().Msg("idle timeout reached, requesting shutdown")
			done := make(chan struct{})
			d.Send(ShutdownMsg{Done: done})
		}
	})
}

// Shutdown stops the run loop and waits for it to exit.
func (d *Dispatcher) Shutdown() {
	done := make(chan struct{})
	d.Send(ShutdownMsg{Done: done})
	<-done
	close(d.msgCh)
}
