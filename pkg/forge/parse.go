package forge

import (
	"encoding/binary"
	"net"

	"github.com/AaWebst/netgen-dpdk/pkg/profile"
)

// Parsed is the subset of a forged frame's fields Parse can recover: MAC
// addresses, VLAN/Q-in-Q ids, L3 family, addresses and DSCP, the L4 kind
// and destination port, and the Correlation Tag of a generic UDP/TCP
// frame. The source port, CoS bits, MPLS labels, VXLAN VNI and payload
// are not recovered.
type Parsed struct {
	DstMAC net.HardwareAddr
	SrcMAC net.HardwareAddr

	SingleVLANID *uint16
	QinQOuterID  *uint16
	QinQInnerID  *uint16

	Family profile.L3Family
	SrcIP  net.IP
	DstIP  net.IP
	DSCP   uint8

	L4Variant profile.L4Variant
	DstPort   uint16

	Tag profile.CorrelationTag
}

// Parse reconstructs the template-derived fields of a frame produced by
// Forge, so the generic UDP/TCP round trip can be verified end to end. It
// only supports the plain (non Q-in-Q+MPLS combined, non-VXLAN) header
// stacks exercised by those streams; VXLAN/DNS/HTTP frames are write-only
// from this engine's perspective, matching how a real RFC 2544 tester
// treats its own synthetic traffic.
func Parse(frame []byte) (Parsed, error) {
	var p Parsed
	if len(frame) < 14 {
		return p, errTooShort
	}
	p.DstMAC = net.HardwareAddr(append([]byte{}, frame[0:6]...))
	p.SrcMAC = net.HardwareAddr(append([]byte{}, frame[6:12]...))
	ethertype := binary.BigEndian.Uint16(frame[12:14])
	off := 14

	var tags []uint16
	for (ethertype == 0x8100 || ethertype == 0x88A8) && off+4 <= len(frame) {
		tci := binary.BigEndian.Uint16(frame[off : off+2])
		tags = append(tags, tci&0x0FFF)
		ethertype = binary.BigEndian.Uint16(frame[off+2 : off+4])
		off += 4
	}
	switch len(tags) {
	case 1:
		p.SingleVLANID = &tags[0]
	case 2:
		p.QinQOuterID = &tags[0]
		p.QinQInnerID = &tags[1]
	}

	switch ethertype {
	case 0x0800:
		if off+20 > len(frame) {
			return p, errTooShort
		}
		p.Family = profile.IPv4
		p.SrcIP = net.IP(append([]byte{}, frame[off+12:off+16]...))
		p.DstIP = net.IP(append([]byte{}, frame[off+16:off+20]...))
		p.DSCP = frame[off+1] >> 2
		proto := frame[off+9]
		ihl := int(frame[off]&0x0F) * 4
		l4off := off + ihl
		parseL4(frame, l4off, proto, &p)
	case 0x86DD:
		if off+40 > len(frame) {
			return p, errTooShort
		}
		p.Family = profile.IPv6
		p.SrcIP = net.IP(append([]byte{}, frame[off+8:off+24]...))
		p.DstIP = net.IP(append([]byte{}, frame[off+24:off+40]...))
		p.DSCP = (frame[off] & 0x0F << 2) | (frame[off+1] >> 6)
		nextHdr := frame[off+6]
		l4off := off + 40
		parseL4(frame, l4off, nextHdr, &p)
	}

	return p, nil
}

func parseL4(frame []byte, off int, proto uint8, p *Parsed) {
	if off < 0 || off+4 > len(frame) {
		return
	}
	switch proto {
	case 17: // UDP
		p.DstPort = binary.BigEndian.Uint16(frame[off+2 : off+4])
		p.L4Variant = profile.UDPGeneric
		if len(frame) >= off+8+profile.CorrelationTagSize {
			p.Tag = profile.DecodeCorrelationTag(frame[off+8 : off+8+profile.CorrelationTagSize])
		}
	case 6: // TCP
		p.DstPort = binary.BigEndian.Uint16(frame[off+2 : off+4])
		p.L4Variant = profile.TCPSyn
		if len(frame) >= off+20+profile.CorrelationTagSize {
			p.Tag = profile.DecodeCorrelationTag(frame[off+20 : off+20+profile.CorrelationTagSize])
		}
	case 1: // ICMP
		p.L4Variant = profile.ICMPEcho
	}
}

type parseError string

func (e parseError) Error() string { return string(e) }

const errTooShort = parseError("forge: frame too short to parse")
