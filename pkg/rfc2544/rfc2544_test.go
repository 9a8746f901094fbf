package rfc2544

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/AaWebst/netgen-dpdk/pkg/correlate"
	"github.com/AaWebst/netgen-dpdk/pkg/profile"
)

// fakeEngine simulates a run without standing up real workers: Start
// synthesizes a fixed number of sent packets for the configured profile and
// feeds a loss-fraction-determined number of them through a real
// correlate.Correlator, so Driver's loss-percentage arithmetic exercises the
// same code path it would against a live engine.
type fakeEngine struct {
	store      *profile.Store
	registry   *correlate.Sharded
	correlator *correlate.Correlator

	txPerStep uint64
	lossFn    func(rateMbps float64) float64 // fraction lost, 0..1

	current *profile.Profile
}

func newFakeEngine(lossFn func(float64) float64) *fakeEngine {
	store := profile.NewStore()
	registry := correlate.NewSharded([]int{0}, 256)
	coreOf := func(streamID uint16) (int, bool) {
		p, ok := store.Get(streamID)
		if !ok {
			return 0, false
		}
		return p.Worker, true
	}
	return &fakeEngine{
		store:      store,
		registry:   registry,
		correlator: correlate.New(registry, coreOf),
		txPerStep:  1000,
		lossFn:     lossFn,
	}
}

func (f *fakeEngine) Configure(profiles []*profile.Profile) error {
	for _, p := range profiles {
		p.Worker = 0
	}
	if err := f.store.Replace(profiles); err != nil {
		return err
	}
	if len(profiles) > 0 {
		f.current = profiles[0]
	}
	return nil
}

func (f *fakeEngine) Start() error {
	if f.current == nil {
		return nil
	}
	p := f.current
	tx := f.txPerStep
	lost := uint64(float64(tx) * f.lossFn(p.Pacing.TargetRateMbps))
	if lost > tx {
		lost = tx
	}
	rx := tx - lost

	p.Counters.PacketsSent.Store(tx)
	for seq := uint64(0); seq < rx; seq++ {
		f.registry.For(p.Worker).Put(uint32(seq), 0)
		f.correlator.Observe(correlate.CorrelationTagLike{
			Sequence: uint32(seq), StreamID: p.StreamID, Magic: profile.CorrelationMagic,
		}, 100)
	}
	return nil
}

func (f *fakeEngine) Stop() error { return nil }

func (f *fakeEngine) Store() *profile.Store { return f.store }

func (f *fakeEngine) Correlator() *correlate.Correlator { return f.correlator }

func (f *fakeEngine) ResetCounters() {
	for _, p := range f.store.All() {
		p.Counters.PacketsSent.Store(0)
	}
	f.correlator.ResetAll()
}

func lossAboveThreshold(threshold, fraction float64) func(float64) float64 {
	return func(rate float64) float64 {
		if rate > threshold {
			return fraction
		}
		return 0
	}
}

func newTestDriver(eng Engine) *Driver {
	return &Driver{
		Engine:  eng,
		SrcMAC:  [6]byte{0x02, 0, 0, 0, 0, 1},
		DstMAC:  [6]byte{0x02, 0, 0, 0, 0, 2},
		SrcIP:   [4]byte{10, 0, 0, 1},
		DstIP:   [4]byte{10, 0, 0, 2},
		DstPort: 9,
	}
}

func TestThroughputConvergesBelowLossThreshold(t *testing.T) {
	eng := newFakeEngine(lossAboveThreshold(500, 0.5))
	d := newTestDriver(eng)

	result, err := d.Throughput(context.Background(), ThroughputParams{
		DurationPerStep:  time.Microsecond,
		FrameSize:        64,
		LossThresholdPct: 0,
		LinkCapacityMbps: 1000,
	})
	if err != nil {
		t.Fatalf("Throughput() error = %v", err)
	}
	if math.Abs(result.MaxRateMbps-500) > 1 {
		t.Fatalf("Throughput() MaxRateMbps = %v, want close to 500", result.MaxRateMbps)
	}
	if result.Iterations == 0 {
		t.Fatalf("Throughput() Iterations = 0, want > 0")
	}
}

func TestThroughputRespectsContextCancellation(t *testing.T) {
	eng := newFakeEngine(lossAboveThreshold(500, 0.5))
	d := newTestDriver(eng)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Throughput(ctx, ThroughputParams{
		DurationPerStep:  time.Microsecond,
		FrameSize:        64,
		LinkCapacityMbps: 1000,
	})
	if err == nil {
		t.Fatalf("Throughput() with a cancelled context = nil error, want error")
	}
}

func TestLatencyReportsMinMaxAndJitter(t *testing.T) {
	eng := newFakeEngine(lossAboveThreshold(1e9, 0)) // never lossy
	d := newTestDriver(eng)

	result, err := d.Latency(context.Background(), LatencyParams{
		RateMbps:  100,
		Duration:  time.Millisecond,
		FrameSize: 64,
	})
	if err != nil {
		t.Fatalf("Latency() error = %v", err)
	}
	if result.TxPackets == 0 {
		t.Fatalf("Latency() TxPackets = 0, want > 0")
	}
	if result.RxPackets == 0 {
		t.Fatalf("Latency() RxPackets = 0, want > 0")
	}
}

func TestMultiSizeSweepReturnsOneRowPerSize(t *testing.T) {
	eng := newFakeEngine(lossAboveThreshold(500, 0.5))
	d := newTestDriver(eng)

	sizes := []int{64, 512, 1500}
	rows, err := d.MultiSizeSweep(context.Background(), sizes, ThroughputParams{
		DurationPerStep:  time.Microsecond,
		LossThresholdPct: 0,
		LinkCapacityMbps: 1000,
	})
	if err != nil {
		t.Fatalf("MultiSizeSweep() error = %v", err)
	}
	if len(rows) != len(sizes) {
		t.Fatalf("MultiSizeSweep() returned %d rows, want %d", len(rows), len(sizes))
	}
	for i, row := range rows {
		if row.FrameSize != sizes[i] {
			t.Fatalf("row[%d].FrameSize = %d, want %d", i, row.FrameSize, sizes[i])
		}
	}
}

func TestFrameLossSweepStopsAfterTwoZeroLossSteps(t *testing.T) {
	eng := newFakeEngine(lossAboveThreshold(1e9, 0)) // never lossy, every step is 0%
	d := newTestDriver(eng)

	steps, err := d.FrameLossSweep(context.Background(), FrameLossParams{
		DurationPerStep:  time.Microsecond,
		FrameSize:        64,
		LinkCapacityMbps: 1000,
		StepPct:          10,
	})
	if err != nil {
		t.Fatalf("FrameLossSweep() error = %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("FrameLossSweep() with always-zero loss ran %d steps, want 2 (stop after the streak)", len(steps))
	}
	for _, s := range steps {
		if s.LossPct != 0 {
			t.Fatalf("step at %.0f%% offered = %.1f%% loss, want 0", s.OfferedPct, s.LossPct)
		}
	}
}

func TestThroughputResultReportContainsMaxRate(t *testing.T) {
	r := ThroughputResult{MaxRateMbps: 9500.5, Iterations: 13}
	if got := r.Report(); !strings.Contains(got, "9,500.5") {
		t.Fatalf("Report() = %q, want thousands-grouped rate", got)
	}
}

func TestLatencyResultReportContainsJitter(t *testing.T) {
	r := LatencyResult{MinNS: 100, AvgNS: 200, MaxNS: 1200, JitterNS: 1100, TxPackets: 5000, RxPackets: 4999}
	if got := r.Report(); !strings.Contains(got, "1,100") {
		t.Fatalf("Report() = %q, want thousands-grouped jitter", got)
	}
}

func TestBidirectionalSwapsAddressesForReverseRun(t *testing.T) {
	eng := newFakeEngine(lossAboveThreshold(1e9, 0))
	d := newTestDriver(eng)

	fwd, rev, err := d.Bidirectional(context.Background(), ThroughputParams{
		DurationPerStep:  time.Microsecond,
		FrameSize:        64,
		LinkCapacityMbps: 1000,
	})
	if err != nil {
		t.Fatalf("Bidirectional() error = %v", err)
	}
	if fwd.MaxRateMbps == 0 || rev.MaxRateMbps == 0 {
		t.Fatalf("Bidirectional() fwd/rev = %+v/%+v, want both non-zero for a loss-free link", fwd, rev)
	}
}
