package numeric

import "testing"

func TestF16RoundTrip(t *testing.T) {
	tests := []float32{0, 1, -1, 0.5, -0.5, 3.14159, 65504, -65504}
	for _, v := range tests {
		got := F16FromF32(v).F32()
		if diff := got - v; diff > 0.01 || diff < -0.01 {
			t.Errorf("F16 round trip of %v = %v, diff too large", v, got)
		}
	}
}

func TestF16BitsRoundTrip(t *testing.T) {
	f := F16FromF32(2.5)
	if got := F16Bits(f.Bits()).F32(); got != 2.5 {
		t.Errorf("F16Bits(Bits()) = %v, want 2.5", got)
	}
}
