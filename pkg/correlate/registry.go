// Package correlate implements the TX Timestamp Registry and Receive
// Correlator. A lock-guarded map becomes the bottleneck under load, so
// the registry is implemented here as a fixed-size ring of (sequence,
// tx_tsc) slots indexed by sequence modulo capacity, single-writer (the
// TX worker)/single-reader (the RX worker) per TX-core shard — no mutex on
// the hot path. Late or lost entries are naturally overwritten as the
// ring wraps, bounding memory without an explicit eviction sweep; the
// latency horizon is capacity * inter_packet_interval.
package correlate

import "sync/atomic"

// entry is one ring slot. seq and txTimestampNS are written together by
// the TX worker and read together by the RX worker; a torn read (seq
// advanced past what txTimestampNS reflects) is detected by re-checking
// seq after the read and discarding on mismatch, the same pattern a
// single-writer/single-reader SPSC ring uses to avoid a lock.
type entry struct {
	seq           atomic.Uint64 // sequence+1, so 0 means "empty"
	txTimestampNS uint64
}

// Registry is a TX Timestamp Registry shard. For the common single-TX/
// single-RX layout one Registry suffices; for N TX workers feeding one RX
// worker, give each TX worker core its own Registry, as NewSharded does.
type Registry struct {
	slots []entry
	mask  uint64
}

// NewRegistry creates a Registry with the given capacity, rounded up to
// the next power of two so sequence%capacity is a mask-and instead of a
// division in the hot path.
func NewRegistry(capacity int) *Registry {
	cap64 := nextPow2(uint64(capacity))
	return &Registry{slots: make([]entry, cap64), mask: cap64 - 1}
}

func nextPow2(n uint64) uint64 {
	if n < 1 {
		n = 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Put records the TX timestamp for sequence seq. Called only by the
// registry's single writer.
func (r *Registry) Put(seq uint32, txTimestampNS uint64) {
	slot := &r.slots[uint64(seq)&r.mask]
	slot.txTimestampNS = txTimestampNS
	slot.seq.Store(uint64(seq) + 1)
}

// TakeResult distinguishes a present, present-but-overwritten (stale), and
// absent lookup, so the Correlator can tell a genuinely unmatched arrival
// apart from one that simply aged out of the ring.
type TakeResult uint8

const (
	Found TakeResult = iota
	Stale
	Absent
)

// Take looks up and clears the entry for seq. It returns Found with the TX
// timestamp when the slot currently holds seq; Stale when the slot has
// been overwritten by a later sequence (the ring wrapped before RX
// caught up); Absent when the slot is empty (seq 0 marker): never written,
// or already cleared by an earlier Take. A Take that loses a race with a
// writer overwriting the slot mid-read reports Stale.
func (r *Registry) Take(seq uint32) (txTimestampNS uint64, result TakeResult) {
	slot := &r.slots[uint64(seq)&r.mask]
	stored := slot.seq.Load()
	if stored == 0 {
		return 0, Absent
	}
	if stored != uint64(seq)+1 {
		return 0, Stale
	}
	ts := slot.txTimestampNS
	// Clear only if nothing has overwritten the slot since we read it; if
	// a writer raced ahead, ts may belong to the newer sequence, so the
	// read is discarded and the writer's entry is left in place.
	if !slot.seq.CompareAndSwap(stored, 0) {
		return 0, Stale
	}
	return ts, Found
}

// Sharded fans out one independent Registry per TX worker core, for the
// N-TX/1-RX layout. Shards are keyed by core id rather than by stream_id:
// a stream's traffic is always produced by exactly one TX worker (the
// core its profile.Profile.Worker names), so keying the shard the same
// way guarantees the shard a TX worker writes to and the shard the
// Receive Correlator reads from for that stream's frames are always the
// same Registry, never one that some other core's worker also writes to
// concurrently. Keying by stream_id modulo shard count instead would let
// two profiles pinned to different cores collide on the same shard
// whenever their stream ids happen to agree modulo N, breaking the
// single-writer-per-shard invariant the whole lock-free design rests on.
type Sharded struct {
	shards map[int]*Registry
}

// NewSharded creates one Registry shard per core in cores, each with the
// given per-shard capacity.
func NewSharded(cores []int, capacityPerShard int) *Sharded {
	s := &Sharded{shards: make(map[int]*Registry, len(cores))}
	for _, core := range cores {
		s.shards[core] = NewRegistry(capacityPerShard)
	}
	return s
}

// For returns the shard dedicated to the TX worker pinned to core, or nil
// if core is not one of the cores NewSharded was built with. A nil result
// means the caller and the registry disagree about the worker core set,
// which is a wiring bug in pkg/engine rather than a runtime condition to
// recover from.
func (s *Sharded) For(core int) *Registry {
	return s.shards[core]
}
