package profile

import "encoding/binary"

// CorrelationTag is the fixed 16-byte structure embedded in the L4 payload
// of generator-originated packets. It lives in pkg/profile rather than
// pkg/forge or pkg/correlate because both of those packages need to
// encode/decode it without depending on each other.
type CorrelationTag struct {
	TxTimestampNS uint64
	Sequence      uint32
	StreamID      uint16
	Magic         uint16
}

// EncodeCorrelationTag writes tag into buf (which must be at least
// CorrelationTagSize bytes) in little-endian byte order, fixed on the
// wire since x86 is the primary deployment target.
func EncodeCorrelationTag(buf []byte, tag CorrelationTag) {
	binary.LittleEndian.PutUint64(buf[0:8], tag.TxTimestampNS)
	binary.LittleEndian.PutUint32(buf[8:12], tag.Sequence)
	binary.LittleEndian.PutUint16(buf[12:14], tag.StreamID)
	binary.LittleEndian.PutUint16(buf[14:16], tag.Magic)
}

// DecodeCorrelationTag reads a CorrelationTag from buf.
func DecodeCorrelationTag(buf []byte) CorrelationTag {
	return CorrelationTag{
		TxTimestampNS: binary.LittleEndian.Uint64(buf[0:8]),
		Sequence:      binary.LittleEndian.Uint32(buf[8:12]),
		StreamID:      binary.LittleEndian.Uint16(buf[12:14]),
		Magic:         binary.LittleEndian.Uint16(buf[14:16]),
	}
}
