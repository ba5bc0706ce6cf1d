// Package constraint implements the gating checks a sync job must pass
// before the dispatcher will start it: network reachability, free storage,
// power state, and the per-capability "sync automatically" setting an
// adapter or its owning account can toggle off.
package constraint

import (
	"sync"
)

// State is the current snapshot of externally-observed system conditions.
// Producers under internal/signals mutate it through Oracle's setters;
// the dispatcher only ever reads it through MayDispatch.
type State struct {
	NetworkConnected bool
	NetworkMetered   bool
	StorageLow       bool
	OnUPS            bool // on backup power; treated the same as low battery
	BatteryLow       bool
	SyncPermitted    bool // global kill switch, e.g. airplane-mode-equivalent
}

// ProviderSettings answers whether a given account opted a capability out
// of automatic scheduling. Implementations back this with whatever account
// subsystem the host platform exposes; the daemon never needs to know the
// representation.
type ProviderSettings interface {
	SyncAutomatically(accountKey string) bool
}

// AlwaysOn is a ProviderSettings that permits every account, useful for
// daemons or tests that don't wire in an account manager.
type AlwaysOn struct{}

func (AlwaysOn) SyncAutomatically(string) bool { return true }

// SettableProviderSettings is implemented by ProviderSettings backends the
// dispatcher itself can update: restoring a persisted setting on startup,
// or applying set_sync_status (spec §6) as it happens.
type SettableProviderSettings interface {
	ProviderSettings
	Set(accountKey string, enabled bool)
}

// MapSettings is a SettableProviderSettings backed by an in-memory map,
// defaulting any account it has never seen to enabled.
type MapSettings struct {
	mu        sync.RWMutex
	byAccount map[string]bool
}

// NewMapSettings creates an empty MapSettings.
func NewMapSettings() *MapSettings {
	return &MapSettings{byAccount: make(map[string]bool)}
}

func (m *MapSettings) SyncAutomatically(accountKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enabled, ok := m.byAccount[accountKey]
	if !ok {
		return true
	}
	return enabled
}

// Set records whether accountKey permits automatic sync.
func (m *MapSettings) Set(accountKey string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byAccount[accountKey] = enabled
}

// Oracle is the constraint oracle: the single place that decides whether
// conditions currently allow a job to run.
type Oracle struct {
	mu       sync.RWMutex
	state    State
	settings ProviderSettings

	// wasDisconnected latches true on the first NetworkConnected=false
	// observation so the next reconnect can be told apart from "always
	// been connected", which the backoff engine needs to clear backoffs
	// only on an actual reconnection edge.
	wasDisconnected bool
}

// New creates an Oracle with network and sync permitted both defaulted to
// true (the common case for a freshly-started daemon before signal
// producers report in).
func New(settings ProviderSettings) *Oracle {
	if settings == nil {
		settings = AlwaysOn{}
	}
	return &Oracle{
		state: State{
			NetworkConnected: true,
			SyncPermitted:    true,
		},
		settings: settings,
	}
}

// SetNetwork updates connectivity state. It returns true if this update is
// a reconnection edge (was disconnected, now connected), which the
// dispatcher uses to clear every package's backoff.
func (o *Oracle) SetNetwork(connected, metered bool) (reconnected bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !connected {
		o.wasDisconnected = true
	} else if o.wasDisconnected {
		reconnected = true
		o.wasDisconnected = false
	}
	o.state.NetworkConnected = connected
	o.state.NetworkMetered = metered
	return reconnected
}

// SetStorageLow updates the free-storage constraint.
func (o *Oracle) SetStorageLow(low bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.StorageLow = low
}

// SetPower updates battery/UPS state.
func (o *Oracle) SetPower(onUPS, batteryLow bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.OnUPS = onUPS
	o.state.BatteryLow = batteryLow
}

// SetSyncPermitted updates the global kill switch.
func (o *Oracle) SetSyncPermitted(permitted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.SyncPermitted = permitted
}

// RestoreProviderSetting pushes a persisted sync-automatically setting
// into the oracle's settings backend, if it supports being updated. Used
// by the dispatcher at startup to hydrate live state from the repository,
// and whenever set_sync_status changes it.
func (o *Oracle) RestoreProviderSetting(accountKey string, enabled bool) {
	if s, ok := o.settings.(SettableProviderSettings); ok {
		s.Set(accountKey, enabled)
	}
}

// ProviderSettings returns the oracle's underlying settings backend, so
// other components gating on the same "sync automatically" rule (the
// periodic scheduler) can share it instead of tracking their own copy.
func (o *Oracle) ProviderSettings() ProviderSettings {
	return o.settings
}

// Snapshot returns a copy of the current constraint state.
func (o *Oracle) Snapshot() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// MayDispatch reports whether global conditions currently allow starting
// any job at all, and the capability-specific automatic-sync setting for
// accountKey. expedited jobs bypass every check but SyncPermitted: a
// user-initiated sync is still blocked while sync is globally disabled,
// but proceeds through low storage or a metered connection since the user
// explicitly asked for it.
func (o *Oracle) MayDispatch(accountKey string, expedited bool) (ok bool, unmet []string) {
	o.mu.RLock()
	state := o.state
	o.mu.RUnlock()

	if !state.SyncPermitted {
		unmet = append(unmet, "sync_not_permitted")
	}
	if !o.settings.SyncAutomatically(accountKey) && !expedited {
		unmet = append(unmet, "sync_not_permitted")
	}
	if expedited {
		return len(unmet) == 0, unmet
	}

	if !state.NetworkConnected {
		unmet = append(unmet, "network")
	}
	if state.StorageLow {
		unmet = append(unmet, "storage_low")
	}
	if state.BatteryLow || state.OnUPS {
		unmet = append(unmet, "battery_low")
	}
	return len(unmet) == 0, unmet
}
