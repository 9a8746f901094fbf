package correlate

import "sync"

// StreamStats holds the running loss/latency/jitter accounting for one
// stream. A given stream is only ever observed by the RX worker that owns
// its queue, but the control plane's stats path reads concurrently, so
// every field is guarded by mu rather than split across atomics — the
// per-packet update already does several dependent arithmetic steps
// (expected-sequence cursor, min/max) that would not compose cleanly as
// independent atomic operations anyway.
type StreamStats struct {
	mu sync.Mutex

	received  uint64
	matched   uint64
	unmatched uint64
	malformed uint64

	expectedSeq uint32
	lost        uint64
	duplicates  uint64
	outOfOrder  uint64

	latencySumNS uint64
	latencyCount uint64
	latencyMin   uint64
	haveMin      bool
	latencyMax   uint64
}

// StreamSnapshot is the read-only view of StreamStats returned to callers.
// JitterNS is max-min over the window, matching how a running jitter
// figure is usually reported rather than a per-packet delta average.
type StreamSnapshot struct {
	Received   uint64
	Matched    uint64
	Unmatched  uint64
	Malformed  uint64
	Lost       uint64
	Duplicates uint64
	OutOfOrder uint64

	LatencyAvgNS uint64
	LatencyMinNS uint64
	LatencyMaxNS uint64
	JitterNS     uint64
}

func (s *StreamStats) observeSequence(seq uint32) {
	expected := s.expectedSeq
	switch {
	case seq > expected:
		s.lost += uint64(seq - expected)
		s.expectedSeq = seq + 1
	case seq == expected:
		s.expectedSeq = expected + 1
	case expected > 0 && seq == expected-1:
		s.duplicates++
	default:
		s.outOfOrder++
	}
}

func (s *StreamStats) observeLatency(latencyNS uint64) {
	s.latencySumNS += latencyNS
	s.latencyCount++
	if !s.haveMin || latencyNS < s.latencyMin {
		s.latencyMin = latencyNS
		s.haveMin = true
	}
	if latencyNS > s.latencyMax {
		s.latencyMax = latencyNS
	}
}

// Snapshot returns a point-in-time copy of the stream's counters.
func (s *StreamStats) Snapshot() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var avg uint64
	if s.latencyCount > 0 {
		avg = s.latencySumNS / s.latencyCount
	}
	var jitter uint64
	if s.latencyMax > s.latencyMin {
		jitter = s.latencyMax - s.latencyMin
	}
	return StreamSnapshot{
		Received:     s.received,
		Matched:      s.matched,
		Unmatched:    s.unmatched,
		Malformed:    s.malformed,
		Lost:         s.lost,
		Duplicates:   s.duplicates,
		OutOfOrder:   s.outOfOrder,
		LatencyAvgNS: avg,
		LatencyMinNS: s.latencyMin,
		LatencyMaxNS: s.latencyMax,
		JitterNS:     jitter,
	}
}

// Reset zeroes a stream's counters, used at test-start so an RFC 2544 run
// never sees carryover from traffic before it began.
func (s *StreamStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = 0
	s.matched = 0
	s.unmatched = 0
	s.malformed = 0
	s.expectedSeq = 0
	s.lost = 0
	s.duplicates = 0
	s.outOfOrder = 0
	s.latencySumNS = 0
	s.latencyCount = 0
	s.latencyMin = 0
	s.haveMin = false
	s.latencyMax = 0
}

// Correlator is the Receive Correlator: it matches inbound frames carrying
// a Correlation Tag against the TX Timestamp Registry shard for their
// stream and folds the result into per-stream latency/loss/jitter
// accounting.
type Correlator struct {
	registry *Sharded
	coreOf   func(streamID uint16) (core int, ok bool)

	mu      sync.RWMutex
	streams map[uint16]*StreamStats
}

// New creates a Correlator backed by the given TX Timestamp Registry
// shards. coreOf resolves a received frame's stream id to the TX worker
// core that stream was assigned to (normally profile.Store.Get wrapped to
// return Profile.Worker), so Observe always reads the same shard its
// stream's TX worker wrote to rather than one selected by hashing the
// stream id.
func New(registry *Sharded, coreOf func(streamID uint16) (core int, ok bool)) *Correlator {
	return &Correlator{
		registry: registry,
		coreOf:   coreOf,
		streams:  make(map[uint16]*StreamStats),
	}
}

func (c *Correlator) streamStats(streamID uint16) *StreamStats {
	c.mu.RLock()
	s, ok := c.streams[streamID]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.streams[streamID]; ok {
		return s
	}
	s = &StreamStats{}
	c.streams[streamID] = s
	return s
}

// CorrelationTagLike mirrors profile.CorrelationTag's fields without
// importing pkg/profile, keeping pkg/correlate free of a dependency edge
// that pkg/profile does not need back.
type CorrelationTagLike struct {
	Sequence uint32
	StreamID uint16
	Magic    uint16
}

// Observation is the result of correlating a single received frame.
type Observation struct {
	StreamID  uint16
	Sequence  uint32
	LatencyNS uint64
	Matched   bool
}

const correlationMagic = 0xBEEF

// Observe correlates one received frame's Correlation Tag (already decoded
// by the caller via profile.DecodeCorrelationTag) against the TX
// Timestamp Registry and updates that stream's stats. rxTimestampNS is the
// time the frame was received, in the same clock domain as the registry's
// stored TX timestamps. The caller releases the buffer itself once Observe
// returns; the registry/stream bookkeeping here never retains it.
func (c *Correlator) Observe(tag CorrelationTagLike, rxTimestampNS uint64) Observation {
	stats := c.streamStats(tag.StreamID)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.received++
	if tag.Magic != correlationMagic {
		stats.malformed++
		return Observation{StreamID: tag.StreamID, Sequence: tag.Sequence}
	}

	stats.observeSequence(tag.Sequence)

	core, ok := c.coreOf(tag.StreamID)
	if !ok {
		stats.unmatched++
		return Observation{StreamID: tag.StreamID, Sequence: tag.Sequence}
	}
	shard := c.registry.For(core)
	if shard == nil {
		stats.unmatched++
		return Observation{StreamID: tag.StreamID, Sequence: tag.Sequence}
	}
	txTimestampNS, result := shard.Take(tag.Sequence)
	if result != Found {
		stats.unmatched++
		return Observation{StreamID: tag.StreamID, Sequence: tag.Sequence}
	}

	var latency uint64
	if rxTimestampNS > txTimestampNS {
		latency = rxTimestampNS - txTimestampNS
	}
	stats.matched++
	stats.observeLatency(latency)

	return Observation{
		StreamID:  tag.StreamID,
		Sequence:  tag.Sequence,
		LatencyNS: latency,
		Matched:   true,
	}
}

// Snapshot returns the current StreamSnapshot for a stream, or the zero
// value if nothing has been observed for it yet.
func (c *Correlator) Snapshot(streamID uint16) StreamSnapshot {
	c.mu.RLock()
	s, ok := c.streams[streamID]
	c.mu.RUnlock()
	if !ok {
		return StreamSnapshot{}
	}
	return s.Snapshot()
}

// All returns a snapshot of every stream the Correlator has observed
// traffic for, keyed by stream id, for the control plane's aggregate
// `stats` response.
func (c *Correlator) All() map[uint16]StreamSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint16]StreamSnapshot, len(c.streams))
	for id, s := range c.streams {
		out[id] = s.Snapshot()
	}
	return out
}

// ResetAll zeroes every stream's counters, used when an RFC 2544 test
// phase begins.
func (c *Correlator) ResetAll() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.streams {
		s.Reset()
	}
}
