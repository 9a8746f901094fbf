package correlate

import "testing"

func TestRegistryPutTakeRoundTrip(t *testing.T) {
	r := NewRegistry(16)
	r.Put(5, 1000)
	ts, result := r.Take(5)
	if result != Found {
		t.Fatalf("Take() result = %v, want Found", result)
	}
	if ts != 1000 {
		t.Fatalf("Take() timestamp = %d, want 1000", ts)
	}
}

func TestRegistryTakeAbsentWhenNeverWritten(t *testing.T) {
	r := NewRegistry(16)
	_, result := r.Take(3)
	if result != Absent {
		t.Fatalf("Take() on unwritten slot = %v, want Absent", result)
	}
}

func TestRegistryTakeClearsEntry(t *testing.T) {
	r := NewRegistry(16)
	r.Put(1, 42)
	r.Take(1)
	if _, result := r.Take(1); result != Absent {
		t.Fatalf("second Take() = %v, want Absent after first Take cleared it", result)
	}
}

func TestRegistryWrapAroundOverwritesStaleEntry(t *testing.T) {
	r := NewRegistry(4) // capacity rounds to 4
	r.Put(0, 100)
	r.Put(4, 200) // same slot (0 mod 4 == 4 mod 4), newer sequence
	_, result := r.Take(0)
	if result != Stale {
		t.Fatalf("Take(0) after slot overwritten by seq 4 = %v, want Stale", result)
	}
	ts, result := r.Take(4)
	if result != Found || ts != 200 {
		t.Fatalf("Take(4) = (%d, %v), want (200, Found)", ts, result)
	}
}

func TestNewRoundsCapacityToPowerOfTwo(t *testing.T) {
	r := NewRegistry(10)
	if len(r.slots) != 16 {
		t.Fatalf("NewRegistry(10) slot count = %d, want 16", len(r.slots))
	}
}

func TestShardedForIsStableByCore(t *testing.T) {
	s := NewSharded([]int{2, 7}, 16)
	a := s.For(7)
	b := s.For(7)
	if a != b {
		t.Fatalf("Sharded.For(7) returned different shards across calls")
	}
	if s.For(2) == s.For(7) {
		t.Fatalf("distinct cores mapped to the same shard")
	}
}

func TestShardedForReturnsNilForUnknownCore(t *testing.T) {
	s := NewSharded([]int{0}, 16)
	if got := s.For(9); got != nil {
		t.Fatalf("Sharded.For(9) = %v, want nil for a core the registry was not built with", got)
	}
}
