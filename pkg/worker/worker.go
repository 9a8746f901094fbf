// Package worker implements the Per-Core Worker: a TX loop that paces and
// forges traffic for the profiles pinned to one core, and an RX loop that
// drains a queue and feeds received frames to the Receive Correlator.
// Neither loop yields cooperatively; both busy-poll and exit only when
// told to stop.
package worker

import (
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/AaWebst/netgen-dpdk/pkg/bufpool"
	"github.com/AaWebst/netgen-dpdk/pkg/clock"
	"github.com/AaWebst/netgen-dpdk/pkg/correlate"
	"github.com/AaWebst/netgen-dpdk/pkg/forge"
	"github.com/AaWebst/netgen-dpdk/pkg/impair"
	"github.com/AaWebst/netgen-dpdk/pkg/pattern"
	"github.com/AaWebst/netgen-dpdk/pkg/profile"
)

// BacklogPolicy controls what a TX worker does when it falls more than one
// pacing interval behind schedule.
type BacklogPolicy uint8

const (
	// SnapForward discards the backlog and resumes pacing from now. This
	// is the default: a saturated worker never tries to "catch up" by
	// bursting, which would distort the offered rate of every other
	// profile sharing the core.
	SnapForward BacklogPolicy = iota
	// Burst lets the worker send consecutively until next_send_tsc
	// catches up to now, trading short-term burstiness for eventually
	// hitting the configured packet count.
	Burst
)

// TXConfig configures a TX worker.
type TXConfig struct {
	CoreID   int
	Queue    int
	Clock    clock.Clock
	Pool     bufpool.Provider
	Registry *correlate.Sharded
	Backlog  BacklogPolicy
	Logger   *zap.Logger

	// MaxDelayBusyWait bounds how long a per-packet impairment delay may
	// be busy-waited before the worker instead defers the packet by
	// advancing next_send_tsc. Longer delays busy-waited on a shared core
	// starve every other profile that core owns.
	MaxDelayBusyWait uint64 // ns

	// Heartbeat, if non-nil, is stamped with the current clock reading on
	// every outer loop pass. The control plane's health command compares
	// this against a bounded staleness window to detect a wedged worker
	// before the next stats poll would surface it as a silent stall.
	Heartbeat *atomic.Uint64
}

// DefaultMaxDelayBusyWait matches the sub-microsecond/low-microsecond
// range impairment delays are expected to fall in; anything above this is
// deferred instead of spun on.
const DefaultMaxDelayBusyWait = 10_000 // 10 microseconds, in ns

// TX runs one core's TX loop. Profiles is the fixed set this worker owns
// for the run; it must not be mutated by any other goroutine while TX is
// running. TX returns when stop reports true, having let any in-flight
// burst finish first.
func TX(cfg TXConfig, profiles []*profile.Profile, stop func() bool) {
	if cfg.MaxDelayBusyWait == 0 {
		cfg.MaxDelayBusyWait = DefaultMaxDelayBusyWait
	}
	pinToCore(cfg.CoreID, cfg.Logger)

	seed := cfg.Clock.Now() ^ uint64(cfg.CoreID)<<32
	rng := rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d))
	impairEngine := impair.New(seed)
	startTSC := cfg.Clock.Now()
	hz := cfg.Clock.FrequencyHz()

	for !stop() {
		now := cfg.Clock.Now()
		if cfg.Heartbeat != nil {
			cfg.Heartbeat.Store(now)
		}
		for _, p := range profiles {
			txOne(cfg, p, now, startTSC, hz, rng, impairEngine)
		}
	}
}

func txOne(
	cfg TXConfig,
	p *profile.Profile,
	now, startTSC, hz uint64,
	rng *rand.Rand,
	impairEngine *impair.Engine,
) {
	if p.NextSendTSC > now {
		return
	}

	elapsedSec := float64(now-startTSC) / float64(hz)
	var rateMbps float64
	if p.Pacing.Pattern != nil {
		rateMbps = p.Pacing.Pattern.Evaluate(elapsedSec, pattern.WrapRNG(rng))
	} else {
		rateMbps = p.Pacing.TargetRateMbps
	}
	if rateMbps <= 0 {
		p.NextSendTSC = now + hz/1000 // bounded re-check, 1ms out
		return
	}

	intervalCycles := intervalCyclesFor(rateMbps, p.Template.FrameSize, hz)
	p.Pacing.IntervalCycles = intervalCycles

	decision := impairEngine.Evaluate(p.StreamID, p.Impairment)
	if decision.Drop {
		p.Counters.PacketsDroppedImpair.Add(1)
		advance(p, now, intervalCycles, cfg.Backlog)
		return
	}

	buf, err := cfg.Pool.Allocate(cfg.CoreID, p.Template.FrameSize)
	if err != nil {
		p.Counters.PacketsDroppedAlloc.Add(1)
		return // retry next tick, schedule not advanced
	}

	txTimestampNS := now
	seq, err := forge.Forge(buf.Data, p, forge.Options{
		SrcPort:       samplePort(p, rng),
		TxTimestampNS: txTimestampNS,
		RNG:           rng,
	})
	if err != nil {
		cfg.Pool.Free(buf)
		p.Counters.PacketsDroppedAlloc.Add(1)
		advance(p, now, intervalCycles, cfg.Backlog)
		return
	}
	cfg.Registry.For(p.Worker).Put(seq, txTimestampNS)

	if decision.ExtraDelay > 0 {
		if uint64(decision.ExtraDelay) <= cfg.MaxDelayBusyWait {
			deadline := cfg.Clock.Now() + uint64(decision.ExtraDelay)
			for cfg.Clock.Now() < deadline {
			}
		} else {
			// A delay this long must not be busy-waited on a shared core.
			// The already-forged packet is not retransmitted later under
			// its recorded sequence/timestamp, so it counts as dropped
			// the same as any other impairment-induced drop, not as
			// silently skipped.
			p.NextSendTSC = now + uint64(decision.ExtraDelay)
			cfg.Pool.Free(buf)
			p.Counters.PacketsDroppedImpair.Add(1)
			return
		}
	}

	n, err := cfg.Pool.TXBurst(p.Worker, []*bufpool.Buffer{buf})
	if err != nil || n == 0 {
		cfg.Pool.Free(buf)
		p.Counters.PacketsDroppedByNIC.Add(1)
		advance(p, now, intervalCycles, cfg.Backlog)
		return
	}
	p.Counters.PacketsSent.Add(1)
	p.Counters.BytesSent.Add(uint64(p.Template.FrameSize))

	if decision.Duplicate {
		dup, err := cfg.Pool.Clone(buf)
		if err == nil {
			if n, err := cfg.Pool.TXBurst(p.Worker, []*bufpool.Buffer{dup}); err == nil && n > 0 {
				p.Counters.PacketsDuplicated.Add(1)
			} else {
				cfg.Pool.Free(dup)
			}
		}
	}

	// The accepted prefix of a TXBurst call is the caller's to free, per
	// bufpool.Provider's contract; rejected buffers also stay with the
	// caller (freed above on the n == 0 path).
	cfg.Pool.Free(buf)

	advance(p, now, intervalCycles, cfg.Backlog)
}

func advance(p *profile.Profile, now, intervalCycles uint64, policy BacklogPolicy) {
	next := p.NextSendTSC + intervalCycles
	if policy == SnapForward && next < now {
		next = now + intervalCycles
	}
	p.NextSendTSC = next
}

func intervalCyclesFor(rateMbps float64, frameSize int, hz uint64) uint64 {
	if rateMbps <= 0 {
		return hz // 1 second fallback; caller already skipped the send
	}
	bitsPerPacket := float64(frameSize) * 8
	packetsPerSec := (rateMbps * 1_000_000) / bitsPerPacket
	if packetsPerSec <= 0 {
		return hz
	}
	return uint64(float64(hz) / packetsPerSec)
}

func samplePort(p *profile.Profile, rng *rand.Rand) uint16 {
	lo, hi := p.Template.SrcPortMin, p.Template.SrcPortMax
	if hi <= lo {
		return lo
	}
	return lo + uint16(rng.IntN(int(hi-lo)+1))
}

// pinToCore pins the calling goroutine's OS thread to coreID. Failures are
// logged, not fatal: pacing accuracy degrades without pinning but the
// worker still functions, and unprivileged or containerized environments
// commonly deny CAP_SYS_NICE.
func pinToCore(coreID int, log *zap.Logger) {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(coreID)
	if err := unix.SchedSetaffinity(0, &set); err != nil && log != nil {
		log.Warn("worker: failed to pin to core", zap.Int("core", coreID), zap.Error(err))
	}
}
