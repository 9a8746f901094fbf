package pattern

import (
	"math"
	"testing"
)

func TestDescriptorValidate(t *testing.T) {
	cases := []struct {
		name string
		d    Descriptor
		ok   bool
	}{
		{"constant ok", Descriptor{Kind: Constant, Peak: 100}, true},
		{"ramp up needs period", Descriptor{Kind: RampUp, PeriodSec: 0}, false},
		{"ramp up with period", Descriptor{Kind: RampUp, PeriodSec: 10}, true},
		{"negative peak rejected", Descriptor{Kind: Constant, Peak: -1}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.d.Validate()
			if (err == nil) != c.ok {
				t.Fatalf("Validate() error = %v, want ok=%v", err, c.ok)
			}
		})
	}
}

func TestEvaluateConstant(t *testing.T) {
	d := Descriptor{Kind: Constant, Peak: 250}
	for _, elapsed := range []float64{0, 1, 100} {
		if got := d.Evaluate(elapsed, nil); got != 250 {
			t.Fatalf("Evaluate(%v) = %v, want 250", elapsed, got)
		}
	}
}

func TestEvaluateRampUp(t *testing.T) {
	d := Descriptor{Kind: RampUp, Base: 0, Peak: 100, PeriodSec: 10}
	if got := d.Evaluate(0, nil); got != 0 {
		t.Fatalf("at t=0, got %v, want 0", got)
	}
	if got := d.Evaluate(5, nil); math.Abs(got-50) > 1e-9 {
		t.Fatalf("at t=5 (half period), got %v, want ~50", got)
	}
}

func TestEvaluateSineStaysWithinBounds(t *testing.T) {
	d := Descriptor{Kind: Sine, Base: 10, Peak: 90, PeriodSec: 4}
	for t64 := 0.0; t64 < 20; t64 += 0.25 {
		got := d.Evaluate(t64, nil)
		if got < 10-1e-9 || got > 90+1e-9 {
			t.Fatalf("Evaluate(%v) = %v, out of [10,90]", t64, got)
		}
	}
}

func TestEvaluateBurstIdleCycle(t *testing.T) {
	d := Descriptor{Kind: Burst, Peak: 1000, BurstMS: 10, IdleMS: 10}
	if got := d.Evaluate(0, nil); got != 1000 {
		t.Fatalf("at start of burst window, got %v, want 1000", got)
	}
	if got := d.Evaluate(0.015, nil); got != 0 {
		t.Fatalf("inside idle window, got %v, want 0", got)
	}
}

func TestEvaluateClampsToPeak(t *testing.T) {
	d := Descriptor{Kind: Exponential, Base: 0, Peak: 50, Mean: 1000}
	rng := NewRNG(42)
	for i := 0; i < 200; i++ {
		got := d.Evaluate(0, rng)
		if got < 0 || got > 50 {
			t.Fatalf("Evaluate() = %v, out of [0,50]", got)
		}
	}
}

func TestEvaluateStochasticWithoutRNGFallsBackToBase(t *testing.T) {
	d := Descriptor{Kind: Normal, Base: 30, Mean: 30, StdDev: 5, Peak: 100}
	if got := d.Evaluate(0, nil); got != 30 {
		t.Fatalf("Evaluate() without rng = %v, want Base (30)", got)
	}
}

func TestWrapRNGProducesUsableStream(t *testing.T) {
	inner := NewRNG(7)
	wrapped := WrapRNG(inner.r)
	d := Descriptor{Kind: Poisson, Base: 10, Mean: 5, Peak: 1000}
	got := d.Evaluate(0, wrapped)
	if got < 0 {
		t.Fatalf("Evaluate() via WrapRNG = %v, want >= 0", got)
	}
}

func TestKindStringUnknown(t *testing.T) {
	var k Kind = 255
	if k.String() != "UNKNOWN" {
		t.Fatalf("String() = %q, want UNKNOWN", k.String())
	}
}
