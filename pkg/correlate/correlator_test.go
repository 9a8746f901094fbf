package correlate

import "testing"

// coreLookupAll returns a coreOf function that resolves every stream id to
// the same core, for tests that only ever exercise a single TX worker.
func coreLookupAll(core int) func(uint16) (int, bool) {
	return func(uint16) (int, bool) { return core, true }
}

func TestObserveMatchesRegisteredSequence(t *testing.T) {
	registry := NewSharded([]int{0}, 64)
	c := New(registry, coreLookupAll(0))

	registry.For(0).Put(0, 1000)
	obs := c.Observe(CorrelationTagLike{Sequence: 0, StreamID: 1, Magic: correlationMagic}, 1500)
	if !obs.Matched {
		t.Fatalf("Observe() Matched = false, want true")
	}
	if obs.LatencyNS != 500 {
		t.Fatalf("Observe() LatencyNS = %d, want 500", obs.LatencyNS)
	}
}

func TestObserveRejectsBadMagic(t *testing.T) {
	registry := NewSharded([]int{0}, 64)
	c := New(registry, coreLookupAll(0))
	obs := c.Observe(CorrelationTagLike{Sequence: 0, StreamID: 1, Magic: 0x1234}, 100)
	if obs.Matched {
		t.Fatalf("Observe() with bad magic Matched = true, want false")
	}
	snap := c.Snapshot(1)
	if snap.Malformed != 1 {
		t.Fatalf("Malformed = %d, want 1", snap.Malformed)
	}
}

func TestObserveUnmatchedWhenSequenceNeverRegistered(t *testing.T) {
	registry := NewSharded([]int{0}, 64)
	c := New(registry, coreLookupAll(0))
	obs := c.Observe(CorrelationTagLike{Sequence: 99, StreamID: 1, Magic: correlationMagic}, 100)
	if obs.Matched {
		t.Fatalf("Observe() for unregistered sequence Matched = true, want false")
	}
	snap := c.Snapshot(1)
	if snap.Unmatched != 1 {
		t.Fatalf("Unmatched = %d, want 1", snap.Unmatched)
	}
}

func TestObserveUnmatchedWhenStreamHasNoKnownCore(t *testing.T) {
	registry := NewSharded([]int{0}, 64)
	c := New(registry, func(uint16) (int, bool) { return 0, false })
	registry.For(0).Put(0, 1000)

	obs := c.Observe(CorrelationTagLike{Sequence: 0, StreamID: 1, Magic: correlationMagic}, 1500)
	if obs.Matched {
		t.Fatalf("Observe() for a stream with no known core Matched = true, want false")
	}
	snap := c.Snapshot(1)
	if snap.Unmatched != 1 {
		t.Fatalf("Unmatched = %d, want 1", snap.Unmatched)
	}
}

func TestObserveSequenceAccounting(t *testing.T) {
	registry := NewSharded([]int{0}, 64)
	c := New(registry, coreLookupAll(0))
	reg := registry.For(0)

	// seq 0 matches the zero-initialized expected cursor: no loss.
	reg.Put(0, 0)
	c.Observe(CorrelationTagLike{Sequence: 0, StreamID: 1, Magic: correlationMagic}, 0)

	// seq 2: jump ahead, one packet (seq 1) lost.
	reg.Put(2, 0)
	c.Observe(CorrelationTagLike{Sequence: 2, StreamID: 1, Magic: correlationMagic}, 0)

	// seq 2 again: a duplicate arrival of expected-1.
	reg.Put(2, 0)
	c.Observe(CorrelationTagLike{Sequence: 2, StreamID: 1, Magic: correlationMagic}, 0)

	snap := c.Snapshot(1)
	if snap.Lost != 1 {
		t.Fatalf("Lost = %d, want 1", snap.Lost)
	}
	if snap.Duplicates != 1 {
		t.Fatalf("Duplicates = %d, want 1", snap.Duplicates)
	}
}

func TestObserveCountsLossWhenFirstPacketOfStreamNeverArrives(t *testing.T) {
	registry := NewSharded([]int{0}, 64)
	c := New(registry, coreLookupAll(0))
	reg := registry.For(0)

	// seq 0 is lost; seq 1 is the first frame the correlator ever sees for
	// this stream. The zero-initialized expected cursor must still catch
	// this as one lost packet rather than silently treating seq 1 as the
	// stream's start.
	reg.Put(1, 0)
	c.Observe(CorrelationTagLike{Sequence: 1, StreamID: 1, Magic: correlationMagic}, 0)

	snap := c.Snapshot(1)
	if snap.Lost != 1 {
		t.Fatalf("Lost = %d, want 1 (seq 0 never arrived)", snap.Lost)
	}
}

func TestObserveOutOfOrderForFarBehindSequence(t *testing.T) {
	registry := NewSharded([]int{0}, 64)
	c := New(registry, coreLookupAll(0))
	reg := registry.For(0)

	for _, seq := range []uint32{5, 6, 7} {
		reg.Put(seq, 0)
		c.Observe(CorrelationTagLike{Sequence: seq, StreamID: 1, Magic: correlationMagic}, 0)
	}
	// expected is now 8; seq 2 is more than one behind expected-1.
	reg.Put(2, 0)
	c.Observe(CorrelationTagLike{Sequence: 2, StreamID: 1, Magic: correlationMagic}, 0)

	snap := c.Snapshot(1)
	if snap.OutOfOrder != 1 {
		t.Fatalf("OutOfOrder = %d, want 1", snap.OutOfOrder)
	}
}

func TestResetAllZeroesCounters(t *testing.T) {
	registry := NewSharded([]int{0}, 64)
	c := New(registry, coreLookupAll(0))
	registry.For(0).Put(0, 0)
	c.Observe(CorrelationTagLike{Sequence: 0, StreamID: 1, Magic: correlationMagic}, 10)

	c.ResetAll()
	snap := c.Snapshot(1)
	if snap != (StreamSnapshot{}) {
		t.Fatalf("Snapshot() after ResetAll() = %+v, want zero value", snap)
	}
}

func TestJitterIsMaxMinusMinLatency(t *testing.T) {
	registry := NewSharded([]int{0}, 64)
	c := New(registry, coreLookupAll(0))
	reg := registry.For(0)

	reg.Put(0, 0)
	c.Observe(CorrelationTagLike{Sequence: 0, StreamID: 1, Magic: correlationMagic}, 100)
	reg.Put(1, 0)
	c.Observe(CorrelationTagLike{Sequence: 1, StreamID: 1, Magic: correlationMagic}, 400)

	snap := c.Snapshot(1)
	if snap.JitterNS != 300 {
		t.Fatalf("JitterNS = %d, want 300", snap.JitterNS)
	}
}
