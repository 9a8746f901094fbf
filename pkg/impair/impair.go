// Package impair implements the per-profile Impairment Engine: stochastic
// drop/duplicate/delay decisions drawn from a per-core PRNG, stateless
// apart from the burst-loss run it tracks per profile.
package impair

import (
	"math/rand/v2"
	"time"
)

// Config is a profile's impairment settings.
type Config struct {
	Enabled bool

	LossPct float64 // 0-100
	// BurstLength, when > 1, makes a drop decision unconditionally drop the
	// next BurstLength-1 packets on this profile before resuming Bernoulli
	// sampling.
	BurstLength int

	FixedDelay time.Duration
	JitterNS   time.Duration // symmetric bound: delay in [fixed-jitter, fixed+jitter]

	ReorderPct   float64 // 0-100, informational: actual reordering is an RX-side emergent effect of delay, not separately injected
	DuplicatePct float64 // 0-100
}

// Engine evaluates impairment decisions for the profiles owned by one
// worker. It holds a single PRNG shared by all of that worker's profiles
// and a per-profile burst-loss run count; neither is locked, since the
// engine is only ever driven by its owning worker (single-writer
// discipline).
type Engine struct {
	rng *rand.Rand

	// burstRemaining[profileID] counts the unconditional drops left in an
	// active burst-loss run.
	burstRemaining map[uint16]int
}

// New creates an Impairment Engine seeded from seed (typically a TSC/clock
// reading taken once at worker startup), never a shared generator.
func New(seed uint64) *Engine {
	return &Engine{
		rng:            rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5)),
		burstRemaining: make(map[uint16]int),
	}
}

// Decision is the set of impairment outcomes for a single packet.
type Decision struct {
	Drop         bool
	ExtraDelay   time.Duration
	Duplicate    bool
}

// Evaluate returns the impairment decision for the next packet on
// profileID under cfg. If cfg.Enabled is false, the zero Decision (no
// drop, no delay, no duplicate) is returned unconditionally.
func (e *Engine) Evaluate(profileID uint16, cfg Config) Decision {
	if !cfg.Enabled {
		return Decision{}
	}

	var d Decision

	if remaining := e.burstRemaining[profileID]; remaining > 0 {
		e.burstRemaining[profileID] = remaining - 1
		d.Drop = true
	} else if cfg.LossPct > 0 && e.rng.Float64()*100 < cfg.LossPct {
		d.Drop = true
		if cfg.BurstLength > 1 {
			e.burstRemaining[profileID] = cfg.BurstLength - 1
		}
	}

	if cfg.FixedDelay > 0 || cfg.JitterNS > 0 {
		jitter := time.Duration(0)
		if cfg.JitterNS > 0 {
			// U(-1,+1) scaled by the jitter bound.
			u := e.rng.Float64()*2 - 1
			jitter = time.Duration(float64(cfg.JitterNS) * u)
		}
		d.ExtraDelay = cfg.FixedDelay + jitter
		if d.ExtraDelay < 0 {
			d.ExtraDelay = 0
		}
	}

	if cfg.DuplicatePct > 0 && e.rng.Float64()*100 < cfg.DuplicatePct {
		d.Duplicate = true
	}

	return d
}

// Reset clears a profile's burst-loss state, e.g. when a test restarts and
// counters are zeroed alongside it.
func (e *Engine) Reset(profileID uint16) {
	delete(e.burstRemaining, profileID)
}
