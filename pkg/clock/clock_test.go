package clock

import (
	"testing"
	"time"
)

type fakeClock struct {
	hz uint64
}

func (f fakeClock) Now() uint64        { return 0 }
func (f fakeClock) FrequencyHz() uint64 { return f.hz }

func TestCyclesFromDurationAtOneGHz(t *testing.T) {
	c := fakeClock{hz: 1_000_000_000}
	got := CyclesFromDuration(c, time.Microsecond)
	if got != 1000 {
		t.Fatalf("CyclesFromDuration(1us @ 1GHz) = %d, want 1000", got)
	}
}

func TestDurationFromCyclesIsInverseOfCyclesFromDuration(t *testing.T) {
	c := fakeClock{hz: 2_000_000_000}
	d := 5 * time.Millisecond
	cycles := CyclesFromDuration(c, d)
	back := DurationFromCycles(c, cycles)
	if back != d {
		t.Fatalf("DurationFromCycles(CyclesFromDuration(%v)) = %v, want %v", d, back, d)
	}
}

func TestDurationFromCyclesZeroFrequency(t *testing.T) {
	c := fakeClock{hz: 0}
	if got := DurationFromCycles(c, 1000); got != 0 {
		t.Fatalf("DurationFromCycles with 0 Hz = %v, want 0", got)
	}
}

func TestSystemNowIsMonotonicallyIncreasing(t *testing.T) {
	s := NewSystem()
	a := s.Now()
	time.Sleep(time.Millisecond)
	b := s.Now()
	if b <= a {
		t.Fatalf("System.Now() did not advance: a=%d b=%d", a, b)
	}
}
