// Package rfc2544 implements the RFC 2544 test driver: binary-search
// throughput, fixed-rate latency, multi-frame-size sweep, bidirectional,
// and frame-loss stepped sweep, each driving the engine's workers for a
// bounded wall-clock duration and reading results back from the Profile
// Store and Receive Correlator.
package rfc2544

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AaWebst/netgen-dpdk/pkg/correlate"
	"github.com/AaWebst/netgen-dpdk/pkg/profile"
)

// Engine is the subset of pkg/engine.Engine the driver needs, kept as an
// interface so tests can supply a fake without standing up real workers.
type Engine interface {
	Configure(profiles []*profile.Profile) error
	Start() error
	Stop() error
	Store() *profile.Store
	Correlator() *correlate.Correlator
	ResetCounters()
}

// Driver runs RFC 2544-style tests against an Engine. It holds no state
// across runs; every method configures its own Profile, runs it, and
// leaves the engine IDLE when done.
type Driver struct {
	Engine Engine
	Log    *zap.Logger

	// DstMAC/SrcMAC/SrcIP/DstIP/DstPort parameterize the synthetic test
	// profile every test method installs.
	SrcMAC, DstMAC [6]byte
	SrcIP, DstIP   [4]byte
	DstPort        uint16
}

// ThroughputParams configures a binary-search throughput test.
type ThroughputParams struct {
	DurationPerStep time.Duration
	FrameSize       int
	LossThresholdPct float64
	LinkCapacityMbps float64
}

// ThroughputResult is the outcome of a binary-search throughput test.
type ThroughputResult struct {
	MaxRateMbps float64
	Iterations  int
}

const throughputResolutionMbps = 0.1

func (d *Driver) testProfile(frameSize int, rateMbps float64) *profile.Profile {
	pacing := profile.Pacing{TargetRateMbps: rateMbps}
	if rateMbps > 0 {
		// Recomputed by the TX worker on first use; this placeholder only
		// satisfies Profile.Validate's "interval is computable" check
		// before Configure ever reaches a worker.
		pacing.IntervalCycles = 1
	}
	return &profile.Profile{
		Name:     "rfc2544",
		StreamID: 1,
		Template: profile.Template{
			L2: profile.L2Template{
				SrcMAC: d.SrcMAC[:],
				DstMAC: d.DstMAC[:],
			},
			L3: profile.L3Template{
				Family: profile.IPv4,
				SrcIP:  d.SrcIP[:],
				DstIP:  d.DstIP[:],
			},
			L4Variant:  profile.UDPGeneric,
			SrcPortMin: 1024,
			SrcPortMax: 65535,
			DstPort:    d.DstPort,
			Payload:    profile.PayloadZeros,
			FrameSize:  frameSize,
		},
		Pacing: pacing,
	}
}

// runStep configures a single profile at rateMbps, resets counters, runs
// for dur, stops, and returns (tx, rx) packet counts.
func (d *Driver) runStep(frameSize int, rateMbps float64, dur time.Duration) (tx, rx uint64, err error) {
	p := d.testProfile(frameSize, rateMbps)
	if err := d.Engine.Configure([]*profile.Profile{p}); err != nil {
		return 0, 0, fmt.Errorf("rfc2544: configure: %w", err)
	}
	d.Engine.ResetCounters()
	if err := d.Engine.Start(); err != nil {
		return 0, 0, fmt.Errorf("rfc2544: start: %w", err)
	}

	time.Sleep(dur)

	if err := d.Engine.Stop(); err != nil {
		return 0, 0, fmt.Errorf("rfc2544: stop: %w", err)
	}

	stored, _ := d.Engine.Store().Get(p.StreamID)
	if stored == nil {
		stored = p
	}
	tx = stored.Counters.PacketsSent.Load()
	snap := d.Engine.Correlator().Snapshot(p.StreamID)
	rx = snap.Matched + snap.Unmatched
	return tx, rx, nil
}

// Throughput runs a binary search over offered rate, converging on the
// highest rate at which frame loss stays at or under the configured
// threshold.
func (d *Driver) Throughput(ctx context.Context, params ThroughputParams) (ThroughputResult, error) {
	lower, upper := 0.0, params.LinkCapacityMbps
	iterations := 0

	for upper-lower > throughputResolutionMbps {
		if err := ctx.Err(); err != nil {
			return ThroughputResult{}, err
		}
		iterations++
		candidate := (lower + upper) / 2

		tx, rx, err := d.runStep(params.FrameSize, candidate, params.DurationPerStep)
		if err != nil {
			return ThroughputResult{}, err
		}

		var loss float64
		if tx > 0 {
			loss = (float64(tx) - float64(rx)) / float64(tx) * 100
			if loss < 0 {
				loss = 0
			}
		}

		if d.Log != nil {
			d.Log.Debug("rfc2544: throughput step",
				zap.Float64("candidate_mbps", candidate),
				zap.Uint64("tx", tx), zap.Uint64("rx", rx),
				zap.Float64("loss_pct", loss))
		}

		if loss <= params.LossThresholdPct {
			lower = candidate
		} else {
			upper = candidate
		}
	}

	return ThroughputResult{MaxRateMbps: lower, Iterations: iterations}, nil
}

// LatencyParams configures a fixed-rate latency test.
type LatencyParams struct {
	RateMbps  float64
	Duration  time.Duration
	FrameSize int
}

// LatencyResult reports the summary statistics from a fixed-rate run.
type LatencyResult struct {
	MinNS, AvgNS, MaxNS, JitterNS uint64
	TxPackets, RxPackets          uint64
}

// Latency configures the synthetic profile at a fixed rate, runs for the
// configured duration, and reports the latency summary from the Receive
// Correlator.
func (d *Driver) Latency(ctx context.Context, params LatencyParams) (LatencyResult, error) {
	p := d.testProfile(params.FrameSize, params.RateMbps)
	if err := d.Engine.Configure([]*profile.Profile{p}); err != nil {
		return LatencyResult{}, fmt.Errorf("rfc2544: configure: %w", err)
	}
	d.Engine.ResetCounters()
	if err := d.Engine.Start(); err != nil {
		return LatencyResult{}, fmt.Errorf("rfc2544: start: %w", err)
	}

	select {
	case <-time.After(params.Duration):
	case <-ctx.Done():
	}

	if err := d.Engine.Stop(); err != nil {
		return LatencyResult{}, fmt.Errorf("rfc2544: stop: %w", err)
	}

	stored, _ := d.Engine.Store().Get(p.StreamID)
	snap := d.Engine.Correlator().Snapshot(p.StreamID)
	var tx uint64
	if stored != nil {
		tx = stored.Counters.PacketsSent.Load()
	}
	return LatencyResult{
		MinNS:     snap.LatencyMinNS,
		AvgNS:     snap.LatencyAvgNS,
		MaxNS:     snap.LatencyMaxNS,
		JitterNS:  snap.JitterNS,
		TxPackets: tx,
		RxPackets: snap.Matched,
	}, nil
}

// SizeResult is one row of a multi-frame-size throughput sweep.
type SizeResult struct {
	FrameSize   int
	MaxRateMbps float64
}

// MultiSizeSweep runs the throughput test independently for each frame
// size in sizes, in the order given, and returns one result row per size.
func (d *Driver) MultiSizeSweep(ctx context.Context, sizes []int, base ThroughputParams) ([]SizeResult, error) {
	out := make([]SizeResult, 0, len(sizes))
	for _, size := range sizes {
		params := base
		params.FrameSize = size
		result, err := d.Throughput(ctx, params)
		if err != nil {
			return out, err
		}
		out = append(out, SizeResult{FrameSize: size, MaxRateMbps: result.MaxRateMbps})
	}
	return out, nil
}

// FrameLossStep is one row of a frame-loss sweep: the offered rate as a
// fraction of link capacity, and the loss percentage observed at that
// rate.
type FrameLossStep struct {
	OfferedPct float64
	LossPct    float64
}

// FrameLossParams configures a stepped frame-loss sweep.
type FrameLossParams struct {
	DurationPerStep  time.Duration
	FrameSize        int
	LinkCapacityMbps float64
	StepPct          float64 // e.g. 10 for 100%,90%,80%...; 10 when zero or negative
}

// FrameLossSweep sweeps offered rate downward from 100% of link capacity
// in params.StepPct increments, recording loss at each step, stopping
// once loss reaches zero for two consecutive steps or the offered rate
// reaches zero.
func (d *Driver) FrameLossSweep(ctx context.Context, params FrameLossParams) ([]FrameLossStep, error) {
	var out []FrameLossStep
	if params.StepPct <= 0 {
		params.StepPct = 10
	}
	zeroStreak := 0
	for pct := 100.0; pct > 0; pct -= params.StepPct {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rate := params.LinkCapacityMbps * pct / 100
		tx, rx, err := d.runStep(params.FrameSize, rate, params.DurationPerStep)
		if err != nil {
			return out, err
		}
		var loss float64
		if tx > 0 {
			loss = (float64(tx) - float64(rx)) / float64(tx) * 100
			if loss < 0 {
				loss = 0
			}
		}
		out = append(out, FrameLossStep{OfferedPct: pct, LossPct: loss})
		if loss == 0 {
			zeroStreak++
			if zeroStreak >= 2 {
				break
			}
		} else {
			zeroStreak = 0
		}
	}
	return out, nil
}

// Bidirectional runs two mirrored throughput tests, one per direction, by
// swapping src/dst MAC and IP for the second run. The two runs are
// sequential here since a single Engine owns one worker set; a true
// simultaneous bidirectional test requires two Engine instances on
// opposite ports, wired by the caller.
func (d *Driver) Bidirectional(ctx context.Context, params ThroughputParams) (fwd, rev ThroughputResult, err error) {
	fwd, err = d.Throughput(ctx, params)
	if err != nil {
		return fwd, ThroughputResult{}, err
	}
	mirrored := *d
	mirrored.SrcMAC, mirrored.DstMAC = d.DstMAC, d.SrcMAC
	mirrored.SrcIP, mirrored.DstIP = d.DstIP, d.SrcIP
	rev, err = mirrored.Throughput(ctx, params)
	return fwd, rev, err
}
