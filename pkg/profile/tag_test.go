package profile

import "testing"

func TestCorrelationTagRoundTrip(t *testing.T) {
	tag := CorrelationTag{
		TxTimestampNS: 123456789,
		Sequence:      42,
		StreamID:      7,
		Magic:         CorrelationMagic,
	}
	buf := make([]byte, CorrelationTagSize)
	EncodeCorrelationTag(buf, tag)

	got := DecodeCorrelationTag(buf)
	if got != tag {
		t.Fatalf("DecodeCorrelationTag(Encode(tag)) = %+v, want %+v", got, tag)
	}
}

func TestCorrelationTagIsLittleEndianOnWire(t *testing.T) {
	buf := make([]byte, CorrelationTagSize)
	EncodeCorrelationTag(buf, CorrelationTag{Sequence: 1, Magic: 0xBEEF})
	// Magic 0xBEEF little-endian is bytes {0xEF, 0xBE} at offset 14.
	if buf[14] != 0xEF || buf[15] != 0xBE {
		t.Fatalf("magic bytes = %#x %#x, want 0xef 0xbe (little-endian)", buf[14], buf[15])
	}
}
