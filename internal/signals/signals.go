// Package signals hosts the producer goroutines that observe external
// conditions — network reachability, free storage, power state, content
// mutation — and turn them into constraint-oracle updates and facade
// calls. None of these goroutines touch dispatcher state directly; they
// only call the Oracle's setters and the Facade's notify methods, which in
// turn enqueue Messages onto the dispatcher's single channel.
package signals

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncd/syncd/internal/core/constraint"
	"github.com/syncd/syncd/internal/core/facade"
)

// NetworkProbe reports current connectivity. Platforms implement this
// against whatever reachability API they expose; the poller below only
// needs a snapshot on demand.
type NetworkProbe interface {
	Probe(ctx context.Context) (connected, metered bool)
}

// StorageProbe reports whether free space is below the daemon's
// low-storage threshold.
type StorageProbe interface {
	IsLow(ctx context.Context) bool
}

// PowerProbe reports battery/UPS state.
type PowerProbe interface {
	State(ctx context.Context) (onUPS, batteryLow bool)
}

// Poller periodically samples the probes and feeds their results into the
// constraint oracle, notifying the facade on a reconnection edge so the
// dispatcher clears backoffs.
type Poller struct {
	oracle  *constraint.Oracle
	facade  *facade.Facade
	network NetworkProbe
	storage StorageProbe
	power   PowerProbe
	logger  zerolog.Logger
	period  time.Duration
}

// NewPoller creates a signal Poller sampling every period.
func NewPoller(oracle *constraint.Oracle, f *facade.Facade, network NetworkProbe, storage StorageProbe, power PowerProbe, period time.Duration, logger zerolog.Logger) *Poller {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &Poller{
		oracle:  oracle,
		facade:  f,
		network: network,
		storage: storage,
		power:   power,
		logger:  logger.With().Str("component", "signals.poller").Logger(),
		period:  period,
	}
}

// Run samples the probes on a ticker until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	p.sampleOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sampleOnce(ctx)
		}
	}
}

func (p *Poller) sampleOnce(ctx context.Context) {
	if p.network != nil {
		connected, metered := p.network.Probe(ctx)
		reconnected := p.oracle.SetNetwork(connected, metered)
		if reconnected {
			p.logger.Info().Msg("network reconnected")
			p.facade.ReportConstraintChange(true)
		}
	}
	if p.storage != nil {
		p.oracle.SetStorageLow(p.storage.IsLow(ctx))
	}
	if p.power != nil {
		onUPS, low := p.power.State(ctx)
		p.oracle.SetPower(onUPS, low)
	}
}

// StaticNetworkProbe always reports the same connectivity, useful for
// daemons running in environments that don't expose their own
// reachability signal and instead toggle it through the facade directly.
type StaticNetworkProbe struct {
	Connected bool
	Metered   bool
}

func (s StaticNetworkProbe) Probe(context.Context) (bool, bool) { return s.Connected, s.Metered }

// StaticStorageProbe always reports the same free-space state.
type StaticStorageProbe bool

func (s StaticStorageProbe) IsLow(context.Context) bool { return bool(s) }

// StaticPowerProbe always reports the same power state.
type StaticPowerProbe struct {
	OnUPS      bool
	BatteryLow bool
}

func (s StaticPowerProbe) State(context.Context) (bool, bool) { return s.OnUPS, s.BatteryLow }
