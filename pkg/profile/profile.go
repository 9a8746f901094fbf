// Package profile implements the Traffic Profile data model and Profile
// Store: identity, forging template, pacing, impairment and runtime
// statistics for one synthesized traffic stream, pinned at creation to
// exactly one worker core.
package profile

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/AaWebst/netgen-dpdk/pkg/impair"
	"github.com/AaWebst/netgen-dpdk/pkg/pattern"
)

// L3Family selects IPv4 or IPv6 for a profile's network layer.
type L3Family uint8

const (
	IPv4 L3Family = iota
	IPv6
)

// L4Variant selects the transport/application-layer flavor a profile
// forges.
type L4Variant uint8

const (
	UDPGeneric L4Variant = iota
	TCPSyn
	ICMPEcho
	UDPDNSQuery
	TCPHTTPRequest
)

// PayloadType selects how the payload region beyond any protocol-specific
// builder output is filled.
type PayloadType uint8

const (
	PayloadRandom PayloadType = iota
	PayloadZeros
	PayloadOnes
	PayloadIncrement
	PayloadFixedBytes
	PayloadHTTPRequestBuilder
	PayloadDNSQueryBuilder
)

// MPLSLabel is one entry in the up-to-4-deep MPLS label stack.
type MPLSLabel struct {
	Label uint32 // 20 bits significant
	TC    uint8  // 3 bits
	TTL   uint8
}

// L2Template describes the Ethernet/VLAN/Q-in-Q/MPLS header stack.
type L2Template struct {
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr

	// Exactly one of SingleVLAN or QinQ may be set; both zero means
	// untagged.
	SingleVLAN *VLANTag
	QinQ       *QinQTags

	// PCP (802.1p class of service), 3 bits, applied to whichever VLAN tag
	// is present. Independent of the IP layer's DSCP/TC marking.
	CoS uint8

	MPLSLabels []MPLSLabel // up to 4
}

// VLANTag is a single 802.1Q tag.
type VLANTag struct {
	VLANID uint16 // 12 bits
}

// QinQTags is the outer/inner 802.1Q(ad) tag pair. The outer tag's
// ethertype is configurable since deployments disagree on whether the
// outer tag should use 0x8100 or the 802.1ad-standard 0x88A8;
// DefaultQinQOuterEthertype is used when OuterEthertype is left zero.
type QinQTags struct {
	OuterVLANID    uint16
	InnerVLANID    uint16
	OuterEthertype uint16 // 0 means DefaultQinQOuterEthertype
}

// DefaultQinQOuterEthertype uses 0x8100 for both tags; set
// QinQTags.OuterEthertype to 0x88A8 explicitly to use the
// 802.1ad-standard outer tag instead.
const DefaultQinQOuterEthertype = 0x8100

// L3Template describes the IPv4/IPv6 selector.
type L3Template struct {
	Family L3Family

	SrcIP net.IP
	DstIP net.IP

	DSCP uint8 // 6 bits
	TC   uint8 // IPv6 traffic class override; defaults to DSCP<<2 if zero
}

// VXLANTemplate describes an optional VXLAN encapsulation; when nil, the
// profile emits native frames.
type VXLANTemplate struct {
	VNI uint32 // 24 bits significant
}

// Template is a profile's complete forging template.
type Template struct {
	L2 L2Template
	L3 L3Template

	VXLAN *VXLANTemplate

	L4Variant L4Variant

	SrcPortMin uint16
	SrcPortMax uint16
	DstPort    uint16

	Payload      PayloadType
	CustomPayload []byte // used when Payload == PayloadFixedBytes

	// DNSQueryDomain is the domain queried when L4Variant == UDPDNSQuery.
	DNSQueryDomain string
	// HTTPMethod/HTTPURI/HTTPHost parameterize the HTTP request builder.
	HTTPMethod string
	HTTPURI    string
	HTTPHost   string

	FrameSize int
}

// headerStackSize returns the minimum frame size the configured header
// stack requires, before any payload or correlation tag. This intentionally
// lives in pkg/profile rather than pkg/forge so Validate can reject a
// frame_size one byte under the minimum at configure time, without a
// forge->profile->forge import cycle.
func (t Template) headerStackSize() int {
	n := 14 // Ethernet

	switch {
	case t.L2.QinQ != nil:
		n += 8 // outer + inner 802.1Q
	case t.L2.SingleVLAN != nil:
		n += 4
	}
	n += 4 * len(t.L2.MPLSLabels)

	switch t.L3.Family {
	case IPv4:
		n += 20
	case IPv6:
		n += 40
	}

	if t.VXLAN != nil {
		n += 8 + 8 // outer UDP + VXLAN shim
	}

	switch t.L4Variant {
	case UDPGeneric, UDPDNSQuery:
		n += 8
	case TCPSyn, TCPHTTPRequest:
		n += 20
	case ICMPEcho:
		n += 8
	}

	if requiresCorrelationTag(t.L4Variant) {
		n += CorrelationTagSize
	}

	return n
}

// requiresCorrelationTag reports which streams carry a tag: generic
// UDP/TCP do, protocol-specific builders (DNS, HTTP, ICMP) don't.
func requiresCorrelationTag(v L4Variant) bool {
	switch v {
	case UDPGeneric, TCPSyn:
		return true
	default:
		return false
	}
}

// CorrelationTagSize is the fixed wire size of a Correlation Tag: 8B
// timestamp + 4B sequence + 2B stream_id + 2B magic.
const CorrelationTagSize = 16

// CorrelationMagic is the fixed magic value every Correlation Tag carries.
const CorrelationMagic = 0xBEEF

// Pacing holds a profile's rate target and pre-computed pacing state.
type Pacing struct {
	TargetRateMbps float64
	Pattern        *pattern.Descriptor // nil means CONSTANT at TargetRateMbps
	BurstSize      int

	// IntervalCycles is the inter-packet interval in clock cycles, derived
	// from rate x size. The TX worker recomputes it from the current rate
	// before every send and stores the result here.
	IntervalCycles uint64
}

// Counters are a profile's emission statistics. All fields are written
// only by the profile's owning worker and read via atomic loads by the
// control plane.
type Counters struct {
	PacketsSent         atomic.Uint64
	BytesSent           atomic.Uint64
	PacketsDroppedByNIC atomic.Uint64
	PacketsDuplicated   atomic.Uint64
	PacketsDroppedAlloc atomic.Uint64
	PacketsDroppedImpair atomic.Uint64
}

// Snapshot is a point-in-time, non-atomic copy of Counters for reporting.
type Snapshot struct {
	PacketsSent          uint64
	BytesSent            uint64
	PacketsDroppedByNIC  uint64
	PacketsDuplicated    uint64
	PacketsDroppedAlloc  uint64
	PacketsDroppedImpair uint64
}

// Load takes a best-effort, per-counter atomic snapshot. No lock is
// taken; the individual loads may be torn across counters but never
// within one.
func (c *Counters) Load() Snapshot {
	return Snapshot{
		PacketsSent:          c.PacketsSent.Load(),
		BytesSent:            c.BytesSent.Load(),
		PacketsDroppedByNIC:  c.PacketsDroppedByNIC.Load(),
		PacketsDuplicated:    c.PacketsDuplicated.Load(),
		PacketsDroppedAlloc:  c.PacketsDroppedAlloc.Load(),
		PacketsDroppedImpair: c.PacketsDroppedImpair.Load(),
	}
}

// Profile is one Traffic Profile: identity, forging template, pacing,
// impairment config and runtime state.
type Profile struct {
	Name     string
	StreamID uint16
	Worker   int // assigned logical core id

	Template   Template
	Pacing     Pacing
	Impairment impair.Config

	// NextSendTSC and Sequence are mutated only by the owning worker:
	// exactly one worker owns mutation of a profile's runtime state.
	NextSendTSC uint64
	Sequence    atomic.Uint32

	Counters Counters
}

// Validate enforces a profile's structural invariants and boundary
// behavior at configure time, never at forge time.
func (p *Profile) Validate() error {
	if len(p.Name) == 0 || len(p.Name) > 63 {
		return fmt.Errorf("profile %q: name must be 1-63 bytes", p.Name)
	}
	if p.Template.SrcPortMin > p.Template.SrcPortMax {
		return fmt.Errorf("profile %q: src_port_min > src_port_max", p.Name)
	}
	minSize := p.Template.headerStackSize()
	if p.Template.FrameSize < minSize {
		return fmt.Errorf(
			"profile %q: frame_size %d below minimum %d for configured header stack",
			p.Name, p.Template.FrameSize, minSize,
		)
	}
	if len(p.Template.L2.MPLSLabels) > 4 {
		return fmt.Errorf("profile %q: at most 4 MPLS labels", p.Name)
	}
	if p.Template.L2.SingleVLAN != nil && p.Template.L2.QinQ != nil {
		return fmt.Errorf("profile %q: single VLAN and Q-in-Q are mutually exclusive", p.Name)
	}
	if p.Pacing.TargetRateMbps > 0 && p.Pacing.IntervalCycles == 0 {
		return fmt.Errorf("profile %q: inter_packet_interval_cycles must be > 0 when target rate > 0", p.Name)
	}
	if p.Pacing.Pattern != nil {
		if err := p.Pacing.Pattern.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	return nil
}

// MinFrameSize exposes headerStackSize for callers outside the package
// (such as the forge tests) that need the same figure without duplicating
// the header-stack walk.
func (t Template) MinFrameSize() int { return t.headerStackSize() }
