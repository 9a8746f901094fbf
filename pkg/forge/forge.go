// Package forge implements the Packet Forger: in-place, zero-copy
// construction of an Ethernet/VLAN/Q-in-Q/MPLS/IPv4/IPv6/VXLAN/UDP/TCP/
// ICMP/DNS/HTTP frame into a caller-supplied buffer, with an optional
// embedded Correlation Tag. Header assembly is manual big-endian
// byte-slice writes directly into the buffer; no gopacket or other
// serialization library is used since every header is built by hand into
// a buffer the caller already owns.
package forge

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/AaWebst/netgen-dpdk/pkg/profile"
)

// Options carries the per-call inputs that vary packet to packet but are
// not part of the profile's static template.
type Options struct {
	SrcPort       uint16 // pre-sampled by the caller from [SrcPortMin, SrcPortMax]
	TxTimestampNS uint64
	RNG           *rand.Rand // per-core, never shared; used for payload fill and DNS query IDs
}

// Forge writes one wire-ready frame for profile p into buf, which must be
// at least p.Template.FrameSize bytes. It returns the sequence number used
// for the frame (useful for registering it in the TX Timestamp Registry)
// and increments p.Sequence by exactly one on success. Forge does not
// allocate, except that the HTTP request builder formats its request line
// with fmt.Sprintf; insufficient frame_size is a Validate-time error,
// never a forge-time one.
func Forge(buf []byte, p *profile.Profile, opts Options) (seq uint32, err error) {
	t := &p.Template
	if len(buf) < t.FrameSize {
		return 0, fmt.Errorf("forge: buffer too small: have %d need %d", len(buf), t.FrameSize)
	}
	frame := buf[:t.FrameSize]

	off, ethertypeOffset := writeEthernet(frame, t)
	off = writeVLANStack(frame, off, ethertypeOffset, t)

	var l4Proto uint8
	switch t.L4Variant {
	case profile.TCPSyn, profile.TCPHTTPRequest:
		l4Proto = 6
	case profile.ICMPEcho:
		l4Proto = 1
	default:
		l4Proto = 17 // UDP, including DNS-over-UDP
	}
	if t.VXLAN != nil {
		l4Proto = 17 // the IP header is followed by the outer VXLAN UDP header
	}

	var l3Start, l4Start int
	l3Start = off
	switch t.L3.Family {
	case profile.IPv4:
		off = writeIPv4(frame, off, t, l4Proto)
	case profile.IPv6:
		off = writeIPv6(frame, off, t, l4Proto)
	default:
		return 0, fmt.Errorf("forge: unknown L3 family %v", t.L3.Family)
	}

	if t.VXLAN != nil {
		udpStart := off
		vxlanUDPLen := t.FrameSize - udpStart
		writeUDPHeader(frame, udpStart, 4789, 4789, uint16(vxlanUDPLen), 0)
		off = udpStart + 8
		off = writeVXLAN(frame, off, t.VXLAN.VNI)
		// Only the outer UDP header and the VXLAN shim are written here; no
		// inner Ethernet or IP header follows, so the profile's L4 header
		// is written directly after the shim.
	}

	l4Start = off
	seq = p.Sequence.Load()

	switch t.L4Variant {
	case profile.UDPGeneric:
		off = forgeUDPGeneric(frame, off, t, opts, seq, p.StreamID)
	case profile.TCPSyn:
		off = forgeTCPGeneric(frame, off, t, opts, seq, p.StreamID, l3Start)
	case profile.ICMPEcho:
		off = forgeICMP(frame, off, seq, p.StreamID)
	case profile.UDPDNSQuery:
		off = forgeDNSQuery(frame, off, t, opts)
	case profile.TCPHTTPRequest:
		off = forgeHTTPRequest(frame, off, t, l3Start)
	default:
		return 0, fmt.Errorf("forge: unknown L4 variant %v", t.L4Variant)
	}
	_ = off

	finalizeChecksums(frame, t, l3Start, l4Start, l4Proto)

	p.Sequence.Add(1)
	return seq, nil
}

// --- Ethernet / VLAN / Q-in-Q / MPLS -------------------------------------

func writeEthernet(frame []byte, t *profile.Template) (next int, ethertypeOffset int) {
	dst := t.L2.DstMAC
	src := t.L2.SrcMAC
	if len(dst) == 6 {
		copy(frame[0:6], dst)
	}
	if len(src) == 6 {
		copy(frame[6:12], src)
	}
	// Ethertype is rewritten below once the tag/label stack is known;
	// default to IPv4.
	binary.BigEndian.PutUint16(frame[12:14], 0x0800)
	return 14, 12
}

func writeVLANStack(frame []byte, off, ethertypeOffset int, t *profile.Template) int {
	switch {
	case t.L2.QinQ != nil:
		outerType := t.L2.QinQ.OuterEthertype
		if outerType == 0 {
			outerType = profile.DefaultQinQOuterEthertype
		}
		binary.BigEndian.PutUint16(frame[ethertypeOffset:ethertypeOffset+2], outerType)
		binary.BigEndian.PutUint16(frame[off:off+2], tci(t.L2.QinQ.OuterVLANID, t.L2.CoS))
		binary.BigEndian.PutUint16(frame[off+2:off+4], 0x8100)
		off += 4
		binary.BigEndian.PutUint16(frame[off:off+2], tci(t.L2.QinQ.InnerVLANID, t.L2.CoS))
		binary.BigEndian.PutUint16(frame[off+2:off+4], innerEthertypeFor(t))
		off += 4
		return off

	case t.L2.SingleVLAN != nil:
		binary.BigEndian.PutUint16(frame[ethertypeOffset:ethertypeOffset+2], 0x8100)
		binary.BigEndian.PutUint16(frame[off:off+2], tci(t.L2.SingleVLAN.VLANID, t.L2.CoS))
		binary.BigEndian.PutUint16(frame[off+2:off+4], innerEthertypeFor(t))
		off += 4
		return off

	case len(t.L2.MPLSLabels) > 0:
		binary.BigEndian.PutUint16(frame[ethertypeOffset:ethertypeOffset+2], 0x8847)
		for i, lbl := range t.L2.MPLSLabels {
			bos := i == len(t.L2.MPLSLabels)-1
			writeMPLSLabel(frame, off, lbl, bos)
			off += 4
		}
		return off

	default:
		binary.BigEndian.PutUint16(frame[ethertypeOffset:ethertypeOffset+2], innerEthertypeFor(t))
		return off
	}
}

// tci packs a VLAN tag control info field: 3-bit PCP, 1-bit DEI (always
// 0), 12-bit VLAN ID.
func tci(vlanID uint16, pcp uint8) uint16 {
	return (uint16(pcp&0x7) << 13) | (vlanID & 0x0FFF)
}

func writeMPLSLabel(frame []byte, off int, lbl profile.MPLSLabel, bos bool) {
	var bosBit uint32
	if bos {
		bosBit = 1
	}
	word := (lbl.Label&0xFFFFF)<<12 | uint32(lbl.TC&0x7)<<9 | bosBit<<8
	binary.BigEndian.PutUint32(frame[off:off+4], word)
	frame[off+3] = lbl.TTL
}

func innerEthertypeFor(t *profile.Template) uint16 {
	if t.L3.Family == profile.IPv6 {
		return 0x86DD
	}
	return 0x0800
}

// --- IPv4 / IPv6 ----------------------------------------------------------

func writeIPv4(frame []byte, off int, t *profile.Template, proto uint8) int {
	totalLen := t.FrameSize - off
	frame[off] = 0x45 // version 4, IHL 5 (no options)
	dscp := t.L3.DSCP
	frame[off+1] = dscp << 2
	binary.BigEndian.PutUint16(frame[off+2:off+4], uint16(totalLen))
	binary.BigEndian.PutUint16(frame[off+4:off+6], 0) // identification
	binary.BigEndian.PutUint16(frame[off+6:off+8], 0) // flags/fragment offset
	frame[off+8] = 64                                 // TTL
	frame[off+9] = proto
	binary.BigEndian.PutUint16(frame[off+10:off+12], 0) // checksum, filled in finalizeChecksums
	src4 := t.L3.SrcIP.To4()
	dst4 := t.L3.DstIP.To4()
	copy(frame[off+12:off+16], src4)
	copy(frame[off+16:off+20], dst4)
	return off + 20
}

func writeIPv6(frame []byte, off int, t *profile.Template, nextHdr uint8) int {
	tc := t.L3.TC
	if tc == 0 {
		tc = t.L3.DSCP << 2
	}
	vtf := uint32(6)<<28 | uint32(tc)<<20 // flow label 0
	binary.BigEndian.PutUint32(frame[off:off+4], vtf)
	payloadLen := t.FrameSize - off - 40
	binary.BigEndian.PutUint16(frame[off+4:off+6], uint16(payloadLen))
	frame[off+6] = nextHdr
	frame[off+7] = 64 // hop limit
	copy(frame[off+8:off+24], t.L3.SrcIP.To16())
	copy(frame[off+24:off+40], t.L3.DstIP.To16())
	return off + 40
}

// --- VXLAN -----------------------------------------------------------------

func writeVXLAN(frame []byte, off int, vni uint32) int {
	binary.BigEndian.PutUint32(frame[off:off+4], 0x08000000) // flags=0x08, reserved
	// RFC 7348: 24-bit VNI in the upper 3 bytes of the second word.
	binary.BigEndian.PutUint32(frame[off+4:off+8], (vni&0xFFFFFF)<<8)
	return off + 8
}

// --- UDP / TCP / ICMP generic streams --------------------------------------

func writeUDPHeader(frame []byte, off int, srcPort, dstPort, length, checksum uint16) {
	binary.BigEndian.PutUint16(frame[off:off+2], srcPort)
	binary.BigEndian.PutUint16(frame[off+2:off+4], dstPort)
	binary.BigEndian.PutUint16(frame[off+4:off+6], length)
	binary.BigEndian.PutUint16(frame[off+6:off+8], checksum)
}

func forgeUDPGeneric(frame []byte, off int, t *profile.Template, opts Options, seq uint32, streamID uint16) int {
	dgramLen := t.FrameSize - off
	writeUDPHeader(frame, off, opts.SrcPort, t.DstPort, uint16(dgramLen), 0)
	payloadOff := off + 8
	writeTaggedPayload(frame, payloadOff, t, opts, seq, streamID)
	return t.FrameSize
}

func forgeTCPGeneric(frame []byte, off int, t *profile.Template, opts Options, seq uint32, streamID uint16, l3Start int) int {
	binary.BigEndian.PutUint16(frame[off:off+2], opts.SrcPort)
	binary.BigEndian.PutUint16(frame[off+2:off+4], t.DstPort)
	binary.BigEndian.PutUint32(frame[off+4:off+8], seq)
	binary.BigEndian.PutUint32(frame[off+8:off+12], 0) // ack
	frame[off+12] = 5 << 4                              // data offset = 5, no options
	frame[off+13] = 0x02                                // SYN
	binary.BigEndian.PutUint16(frame[off+14:off+16], 65535)
	binary.BigEndian.PutUint16(frame[off+16:off+18], 0) // checksum placeholder
	binary.BigEndian.PutUint16(frame[off+18:off+20], 0) // urgent pointer
	payloadOff := off + 20
	writeTaggedPayload(frame, payloadOff, t, opts, seq, streamID)
	return t.FrameSize
}

func forgeICMP(frame []byte, off int, seq uint32, streamID uint16) int {
	frame[off] = 8   // type: echo request
	frame[off+1] = 0 // code
	binary.BigEndian.PutUint16(frame[off+2:off+4], 0) // checksum placeholder
	binary.BigEndian.PutUint16(frame[off+4:off+6], streamID)
	binary.BigEndian.PutUint16(frame[off+6:off+8], uint16(seq))
	return len(frame)
}

// writeTaggedPayload embeds the Correlation Tag (when required) at the
// start of the L4 payload region, then fills the remainder per
// t.Payload.
func writeTaggedPayload(frame []byte, off int, t *profile.Template, opts Options, seq uint32, streamID uint16) {
	rest := frame[off:]
	if requiresTag(t) && len(rest) >= profile.CorrelationTagSize {
		profile.EncodeCorrelationTag(rest[:profile.CorrelationTagSize], profile.CorrelationTag{
			TxTimestampNS: opts.TxTimestampNS,
			Sequence:      seq,
			StreamID:      streamID,
			Magic:         profile.CorrelationMagic,
		})
		rest = rest[profile.CorrelationTagSize:]
	}
	fillPayload(rest, t, opts)
}

func requiresTag(t *profile.Template) bool {
	switch t.L4Variant {
	case profile.UDPGeneric, profile.TCPSyn:
		return true
	default:
		return false
	}
}

func fillPayload(buf []byte, t *profile.Template, opts Options) {
	switch t.Payload {
	case profile.PayloadZeros:
		clear(buf)
	case profile.PayloadOnes:
		for i := range buf {
			buf[i] = 0xFF
		}
	case profile.PayloadIncrement:
		for i := range buf {
			buf[i] = byte(i)
		}
	case profile.PayloadFixedBytes:
		n := copy(buf, t.CustomPayload)
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
	case profile.PayloadRandom:
		if opts.RNG != nil {
			for i := range buf {
				buf[i] = byte(opts.RNG.IntN(256))
			}
		}
	default:
		// HTTP/DNS builders own their own region; nothing left to fill for
		// streams that route through forgeHTTPRequest/forgeDNSQuery.
	}
}

// --- DNS query builder -----------------------------------------------------

// forgeDNSQuery writes the UDP header at off (the start of the UDP header,
// matching the convention of forgeUDPGeneric/forgeTCPGeneric) followed by
// the DNS query body.
func forgeDNSQuery(frame []byte, off int, t *profile.Template, opts Options) int {
	dgramLen := t.FrameSize - off
	writeUDPHeader(frame, off, opts.SrcPort, t.DstPort, uint16(dgramLen), 0)
	off += 8

	id := uint16(0)
	if opts.RNG != nil {
		id = uint16(opts.RNG.IntN(1 << 16))
	}
	binary.BigEndian.PutUint16(frame[off:off+2], id)
	binary.BigEndian.PutUint16(frame[off+2:off+4], 0x0100) // flags: standard query, recursion desired
	binary.BigEndian.PutUint16(frame[off+4:off+6], 1)       // QDCOUNT
	binary.BigEndian.PutUint16(frame[off+6:off+8], 0)       // ANCOUNT
	binary.BigEndian.PutUint16(frame[off+8:off+10], 0)      // NSCOUNT
	binary.BigEndian.PutUint16(frame[off+10:off+12], 0)     // ARCOUNT
	off += 12

	off += writeDNSName(frame[off:], t.DNSQueryDomain)

	binary.BigEndian.PutUint16(frame[off:off+2], 1) // QTYPE A
	binary.BigEndian.PutUint16(frame[off+2:off+4], 1) // QCLASS IN
	off += 4

	for off < len(frame) {
		frame[off] = 0
		off++
	}
	return len(frame)
}

// writeDNSName writes length-prefixed labels terminated by a zero length
// byte, returning the number of bytes written (capped to len(buf)).
func writeDNSName(buf []byte, domain string) int {
	off := 0
	start := 0
	writeLabel := func(label string) bool {
		if off+1+len(label) > len(buf) {
			return false
		}
		buf[off] = byte(len(label))
		off++
		copy(buf[off:], label)
		off += len(label)
		return true
	}
	for i := 0; i <= len(domain); i++ {
		if i == len(domain) || domain[i] == '.' {
			if i > start {
				if !writeLabel(domain[start:i]) {
					return off
				}
			}
			start = i + 1
		}
	}
	if off < len(buf) {
		buf[off] = 0
		off++
	}
	return off
}

// --- HTTP request builder ---------------------------------------------------

func forgeHTTPRequest(frame []byte, off int, t *profile.Template, l3Start int) int {
	binary.BigEndian.PutUint16(frame[off:off+2], t.SrcPortMin)
	binary.BigEndian.PutUint16(frame[off+2:off+4], t.DstPort)
	binary.BigEndian.PutUint32(frame[off+4:off+8], 0) // seq
	binary.BigEndian.PutUint32(frame[off+8:off+12], 0) // ack
	frame[off+12] = 5 << 4
	frame[off+13] = 0x18 // PSH, ACK
	binary.BigEndian.PutUint16(frame[off+14:off+16], 65535)
	binary.BigEndian.PutUint16(frame[off+16:off+18], 0)
	binary.BigEndian.PutUint16(frame[off+18:off+20], 0)
	payloadOff := off + 20

	method := t.HTTPMethod
	if method == "" {
		method = "GET"
	}
	uri := t.HTTPURI
	if uri == "" {
		uri = "/"
	}
	host := t.HTTPHost
	if host == "" {
		host = "example.com"
	}
	req := fmt.Sprintf("%s %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", method, uri, host)
	n := copy(frame[payloadOff:], req)
	for i := payloadOff + n; i < len(frame); i++ {
		frame[i] = 0
	}
	return len(frame)
}

// --- checksums --------------------------------------------------------------

func checksum16(data []byte) uint16 {
	var sum uint32
	for len(data) > 1 {
		sum += uint32(binary.BigEndian.Uint16(data))
		data = data[2:]
	}
	if len(data) > 0 {
		sum += uint32(data[0]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

func finalizeChecksums(frame []byte, t *profile.Template, l3Start, l4Start int, l4Proto uint8) {
	if t.L3.Family == profile.IPv4 {
		binary.BigEndian.PutUint16(frame[l3Start+10:l3Start+12], 0)
		cs := checksum16(frame[l3Start : l3Start+20])
		binary.BigEndian.PutUint16(frame[l3Start+10:l3Start+12], cs)
	}
	// UDP/TCP checksums are left as 0 for both generic streams; ICMP
	// checksum is likewise left unset. Real NICs in the deployment path
	// compute L4 checksums via hardware offload.
}
