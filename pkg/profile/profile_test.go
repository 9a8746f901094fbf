package profile

import (
	"net"
	"testing"

	"github.com/AaWebst/netgen-dpdk/pkg/impair"
	"github.com/AaWebst/netgen-dpdk/pkg/pattern"
)

func baseProfile() *Profile {
	return &Profile{
		Name:     "udp-test",
		StreamID: 1,
		Template: Template{
			L2: L2Template{
				SrcMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
				DstMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			},
			L3: L3Template{
				Family: IPv4,
				SrcIP:  net.IPv4(10, 0, 0, 1),
				DstIP:  net.IPv4(10, 0, 0, 2),
			},
			L4Variant:  UDPGeneric,
			SrcPortMin: 1024,
			SrcPortMax: 65535,
			DstPort:    5000,
			Payload:    PayloadZeros,
			FrameSize:  100,
		},
		Pacing: Pacing{TargetRateMbps: 100, IntervalCycles: 1},
	}
}

func TestValidateAcceptsMinimumFrameSize(t *testing.T) {
	p := baseProfile()
	p.Template.FrameSize = p.Template.MinFrameSize()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() at minimum frame size = %v, want nil", err)
	}
}

func TestValidateRejectsOneByteUnderMinimum(t *testing.T) {
	p := baseProfile()
	p.Template.FrameSize = p.Template.MinFrameSize() - 1
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() one byte under minimum = nil, want error")
	}
}

func TestValidateRejectsSrcPortRangeInverted(t *testing.T) {
	p := baseProfile()
	p.Template.SrcPortMin = 2000
	p.Template.SrcPortMax = 1000
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() with src_port_min > src_port_max = nil, want error")
	}
}

func TestValidateRejectsZeroIntervalWithPositiveRate(t *testing.T) {
	p := baseProfile()
	p.Pacing.IntervalCycles = 0
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() with rate>0 and IntervalCycles=0 = nil, want error")
	}
}

func TestValidateRejectsMutuallyExclusiveVLANAndQinQ(t *testing.T) {
	p := baseProfile()
	p.Template.L2.SingleVLAN = &VLANTag{VLANID: 10}
	p.Template.L2.QinQ = &QinQTags{OuterVLANID: 1, InnerVLANID: 2}
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() with both VLAN and QinQ set = nil, want error")
	}
}

func TestValidateRejectsTooManyMPLSLabels(t *testing.T) {
	p := baseProfile()
	for i := 0; i < 5; i++ {
		p.Template.L2.MPLSLabels = append(p.Template.L2.MPLSLabels, MPLSLabel{Label: uint32(i)})
	}
	p.Template.FrameSize = p.Template.MinFrameSize()
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() with 5 MPLS labels = nil, want error")
	}
}

func TestValidatePropagatesPatternPeriodError(t *testing.T) {
	p := baseProfile()
	p.Pacing.Pattern = &pattern.Descriptor{Kind: pattern.Sine, PeriodSec: 0}
	if err := p.Validate(); err == nil {
		t.Fatalf("Validate() with SINE period_sec=0 = nil, want error")
	}
}

func TestMinFrameSizeGrowsWithHeaderStack(t *testing.T) {
	p := baseProfile()
	plain := p.Template.MinFrameSize()

	withVLAN := p.Template
	withVLAN.L2.SingleVLAN = &VLANTag{VLANID: 10}
	if got := withVLAN.MinFrameSize(); got != plain+4 {
		t.Fatalf("MinFrameSize() with single VLAN = %d, want %d", got, plain+4)
	}

	withQinQ := p.Template
	withQinQ.L2.QinQ = &QinQTags{OuterVLANID: 1, InnerVLANID: 2}
	if got := withQinQ.MinFrameSize(); got != plain+8 {
		t.Fatalf("MinFrameSize() with Q-in-Q = %d, want %d", got, plain+8)
	}
}

func TestCountersLoadIsIndependentSnapshot(t *testing.T) {
	var c Counters
	c.PacketsSent.Store(5)
	snap := c.Load()
	c.PacketsSent.Store(10)
	if snap.PacketsSent != 5 {
		t.Fatalf("Load() snapshot mutated after later Store: got %d, want 5", snap.PacketsSent)
	}
}

func TestImpairmentConfigIsPartOfProfile(t *testing.T) {
	p := baseProfile()
	p.Impairment = impair.Config{Enabled: true, LossPct: 1.0}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() with impairment configured = %v, want nil", err)
	}
}
