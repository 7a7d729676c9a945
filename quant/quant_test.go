package quant

import (
	"math"
	"testing"

	"github.com/nnforge/ggoe/fs/ggml"
	"github.com/nnforge/ggoe/numeric"
)

func maxAbsDiff(a, b []float32) float32 {
	var m float32
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		if d > m {
			m = d
		}
	}
	return m
}

// TestQ4_0EncodeDecode is end-to-end scenario 1 from spec §8.
func TestQ4_0EncodeDecode(t *testing.T) {
	x := make([]float32, 32)
	for i := range x {
		v := float32(i + 1)
		if i%2 == 1 {
			v = -v
		}
		x[i] = v
	}

	enc := QuantizeRowQ4_0(x)
	dec := DequantizeRowQ4_0(enc, 32)

	if diff := maxAbsDiff(x, dec); diff > 4.0 {
		t.Errorf("Q4_0 round trip |diff|inf = %v, want <= 4.0", diff)
	}
}

func TestQuantizeRoundTripBounds(t *testing.T) {
	x := make([]float32, 64)
	for i := range x {
		x[i] = float32(i-32) * 0.37
	}

	var amax, mn, mx float32
	mn, mx = x[0], x[0]
	for _, v := range x {
		av := float32(math.Abs(float64(v)))
		if av > amax {
			amax = av
		}
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}

	tests := []struct {
		name    string
		encode  func([]float32) []byte
		decode  func([]byte, int) []float32
		bound   float32
	}{
		{"Q4_0", QuantizeRowQ4_0, DequantizeRowQ4_0, amax / 8},
		{"Q4_1", QuantizeRowQ4_1, DequantizeRowQ4_1, (mx - mn) / 15},
		{"Q5_0", QuantizeRowQ5_0, DequantizeRowQ5_0, amax / 16},
		{"Q5_1", QuantizeRowQ5_1, DequantizeRowQ5_1, (mx - mn) / 31},
		{"Q8_0", QuantizeRowQ8_0, DequantizeRowQ8_0, amax / 127},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := tt.encode(x)
			dec := tt.decode(enc, len(x))
			diff := maxAbsDiff(x, dec)
			// allow small headroom for FP16 scale rounding.
			if diff > tt.bound*1.15+1e-3 {
				t.Errorf("%s round trip |diff|inf = %v, want <= ~%v", tt.name, diff, tt.bound)
			}
		})
	}
}

func TestDotProductAgreement(t *testing.T) {
	n := 64
	x := make([]float32, n)
	y := make([]float32, n)
	for i := 0; i < n; i++ {
		x[i] = float32((i%7)-3) * 0.9
		y[i] = float32((i%5)-2) * 1.3
	}

	tests := []struct {
		weight ggml.TensorType
		encode func([]float32) []byte
		decode func([]byte, int) []float32
	}{
		{ggml.TensorTypeQ4_0, QuantizeRowQ4_0, DequantizeRowQ4_0},
		{ggml.TensorTypeQ4_1, QuantizeRowQ4_1, DequantizeRowQ4_1},
		{ggml.TensorTypeQ5_0, QuantizeRowQ5_0, DequantizeRowQ5_0},
		{ggml.TensorTypeQ5_1, QuantizeRowQ5_1, DequantizeRowQ5_1},
		{ggml.TensorTypeQ8_0, QuantizeRowQ8_0, DequantizeRowQ8_0},
		{ggml.TensorTypeQ8_1, QuantizeRowQ8_1, DequantizeRowQ8_1},
	}

	for _, tt := range tests {
		t.Run(tt.weight.String(), func(t *testing.T) {
			actEncode := QuantizeRowQ8_0
			actDecode := DequantizeRowQ8_0
			if tt.weight.DotType() == ggml.TensorTypeQ8_1 {
				actEncode = QuantizeRowQ8_1
				actDecode = DequantizeRowQ8_1
			}

			lhs := tt.encode(x)
			rhs := actEncode(y)

			got, err := VecDot(tt.weight, n, lhs, rhs)
			if err != nil {
				t.Fatalf("VecDot: %v", err)
			}

			xq := tt.decode(lhs, n)
			yq := actDecode(rhs, n)
			want := numeric.Dot(n, xq, yq)

			relErr := float32(math.Abs(float64(got-want))) / (float32(math.Abs(float64(want))) + 1e-6)
			if relErr > 1e-3 {
				t.Errorf("%s VecDot = %v, naive dequantize-dot = %v, rel err %v", tt.weight, got, want, relErr)
			}
		})
	}
}

func TestKQuantRoundTrip(t *testing.T) {
	n := 256
	x := make([]float32, n)
	for i := range x {
		x[i] = float32(math.Sin(float64(i)*0.05)) * 10
	}

	tests := []struct {
		name   string
		encode func([]float32) []byte
		decode func([]byte, int) []float32
		bound  float32
	}{
		{"Q2_K", QuantizeRowQ2_K, DequantizeRowQ2_K, 2.0},
		{"Q3_K", QuantizeRowQ3_K, DequantizeRowQ3_K, 1.5},
		{"Q4_K", QuantizeRowQ4_K, DequantizeRowQ4_K, 1.0},
		{"Q5_K", QuantizeRowQ5_K, DequantizeRowQ5_K, 0.6},
		{"Q6_K", QuantizeRowQ6_K, DequantizeRowQ6_K, 0.3},
		{"Q8_K", QuantizeRowQ8_K, DequantizeRowQ8_K, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := tt.encode(x)
			dec := tt.decode(enc, n)
			if len(dec) != n {
				t.Fatalf("decoded length = %d, want %d", len(dec), n)
			}
			if diff := maxAbsDiff(x, dec); diff > tt.bound {
				t.Errorf("%s round trip |diff|inf = %v, want <= %v", tt.name, diff, tt.bound)
			}
		})
	}
}

func TestVecDotBlockCountInvariant(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("VecDot with odd block count did not panic")
		}
	}()
	x := make([]float32, 32) // one block: block count 1 is odd
	enc := QuantizeRowQ4_0(x)
	rhs := QuantizeRowQ8_0(x)
	_, _ = VecDot(ggml.TensorTypeQ4_0, 32, enc, rhs)
}

func TestLookupUnknownType(t *testing.T) {
	if _, err := Lookup(ggml.TensorTypeF32); err == nil {
		t.Errorf("Lookup(F32) succeeded, want error")
	}
}
