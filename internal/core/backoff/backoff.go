// Package backoff implements the per-capability scheduling backoff: how
// long a dispatcher must wait before retrying a capability that just
// failed, growing exponentially on repeated failure and clearing entirely
// either on success or when connectivity is restored.
package backoff

import (
	"math"
	"sync"
	"time"

	"github.com/syncd/syncd/internal/core/clock"
)

// Config tunes the exponential curve.
type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultConfig mirrors the daemon's default of a ten-second base delay
// doubling up to an hour.
func DefaultConfig() Config {
	return Config{
		Initial:    10 * time.Second,
		Max:        time.Hour,
		Multiplier: 2.0,
	}
}

type entry struct {
	failures    int
	notBefore   time.Time
}

// Engine tracks backoff state per capability key.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	clk    clock.Clock
	byKey  map[string]*entry
}

// New creates a backoff Engine.
func New(cfg Config, clk clock.Clock) *Engine {
	if cfg.Multiplier <= 1.0 {
		cfg.Multiplier = 2.0
	}
	return &Engine{cfg: cfg, clk: clk, byKey: make(map[string]*entry)}
}

// NotBefore returns the earliest time key may be dispatched again, or the
// zero Time if it isn't backed off.
func (e *Engine) NotBefore(key string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.byKey[key]
	if !ok {
		return time.Time{}
	}
	return en.notBefore
}

// IsBackedOff reports whether key is currently within its backoff window.
func (e *Engine) IsBackedOff(key string) bool {
	nb := e.NotBefore(key)
	return !nb.IsZero() && e.clk.Now().Before(nb)
}

// OnFailure records a failure for key, extending its backoff
// exponentially, and returns the new notBefore time.
func (e *Engine) OnFailure(key string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.byKey[key]
	if !ok {
		en = &entry{}
		e.byKey[key] = en
	}
	delay := time.Duration(float64(e.cfg.Initial) * math.Pow(e.cfg.Multiplier, float64(en.failures)))
	if delay > e.cfg.Max {
		delay = e.cfg.Max
	}
	en.failures++
	en.notBefore = e.clk.Now().Add(delay)
	return en.notBefore
}

// OnSuccess clears key's backoff entirely.
func (e *Engine) OnSuccess(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byKey, key)
}

// ClearAll wipes every package's backoff state, called when the
// constraint oracle reports a network reconnection: a capability that
// failed while offline deserves an immediate retry, not a stale penalty.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byKey = make(map[string]*entry)
}

// FailureCount returns how many consecutive failures key has accrued.
func (e *Engine) FailureCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.byKey[key]
	if !ok {
		return 0
	}
	return en.failures
}
