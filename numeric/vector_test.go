package numeric

import (
	"math"
	"testing"
)

func approxEqual(a, b, tol float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestAddSubMulDiv(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	dst := make([]float32, 3)

	Add(3, dst, a, b)
	want := []float32{5, 7, 9}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("Add[%d] = %v, want %v", i, dst[i], want[i])
		}
	}

	Sub(3, dst, b, a)
	want = []float32{3, 3, 3}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("Sub[%d] = %v, want %v", i, dst[i], want[i])
		}
	}

	Mul(3, dst, a, b)
	want = []float32{4, 10, 18}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("Mul[%d] = %v, want %v", i, dst[i], want[i])
		}
	}

	Div(3, dst, b, a)
	want = []float32{4, 2.5, 2}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("Div[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestReluStepSgn(t *testing.T) {
	a := []float32{-2, 0, 3}
	dst := make([]float32, 3)

	Relu(3, dst, a)
	if dst[0] != 0 || dst[1] != 0 || dst[2] != 3 {
		t.Errorf("Relu = %v", dst)
	}

	Step(3, dst, a)
	if dst[0] != 0 || dst[1] != 0 || dst[2] != 1 {
		t.Errorf("Step = %v", dst)
	}

	Sgn(3, dst, a)
	if dst[0] != -1 || dst[1] != 0 || dst[2] != 1 {
		t.Errorf("Sgn = %v", dst)
	}
}

func TestDotSumNorm(t *testing.T) {
	a := []float32{3, 4}
	if got := Norm(2, a); approxEqual(got, 5, 1e-6) == false {
		t.Errorf("Norm = %v, want 5", got)
	}

	if got := Sum(2, a); got != 7 {
		t.Errorf("Sum = %v, want 7", got)
	}

	if got := Dot(2, a, a); got != 25 {
		t.Errorf("Dot = %v, want 25", got)
	}
}

func TestSumDeterministicAcrossCalls(t *testing.T) {
	// Summing the same values twice (once through a fresh copy of the
	// slice) must give a bit-identical result (spec §4.1 determinism note).
	a := make([]float32, 777)
	for i := range a {
		a[i] = float32(i%13) - 6
	}
	want := Sum(len(a), a)
	got := Sum(len(a), append([]float32(nil), a...))
	if got != want {
		t.Errorf("Sum not deterministic: %v vs %v", got, want)
	}
}

func TestMaxArgmax(t *testing.T) {
	a := []float32{1, 5, 3, 5, 2}
	if got := Max(len(a), a); got != 5 {
		t.Errorf("Max = %v, want 5", got)
	}
	if got := Argmax(len(a), a); got != 1 {
		t.Errorf("Argmax = %v, want 1 (first occurrence)", got)
	}
}

func TestGeluTableLookup(t *testing.T) {
	a := []float32{0, 1, -1, 2}
	dst := make([]float32, len(a))
	Gelu(len(a), dst, a)

	for i, x := range a {
		exact := float32(geluExact(float64(x)))
		if !approxEqual(dst[i], exact, 0.02) {
			t.Errorf("Gelu(%v) = %v, want ~%v", x, dst[i], exact)
		}
	}
}

func TestSiluTableLookup(t *testing.T) {
	a := []float32{0, 1, -1, 2}
	dst := make([]float32, len(a))
	Silu(len(a), dst, a)

	for i, x := range a {
		exact := float32(siluExact(float64(x)))
		if !approxEqual(dst[i], exact, 0.02) {
			t.Errorf("Silu(%v) = %v, want ~%v", x, dst[i], exact)
		}
	}
}

func TestScaleMad(t *testing.T) {
	a := []float32{1, 2, 3}
	dst := make([]float32, 3)
	Scale(3, dst, a, 2)
	if dst[0] != 2 || dst[1] != 4 || dst[2] != 6 {
		t.Errorf("Scale = %v", dst)
	}

	y := []float32{1, 1, 1}
	Mad(3, y, a, 2)
	if y[0] != 3 || y[1] != 5 || y[2] != 7 {
		t.Errorf("Mad = %v", y)
	}
}

func TestSqrtSqrLog(t *testing.T) {
	a := []float32{4, 9}
	dst := make([]float32, 2)
	Sqrt(2, dst, a)
	if dst[0] != 2 || dst[1] != 3 {
		t.Errorf("Sqrt = %v", dst)
	}

	Sqr(2, dst, a)
	if dst[0] != 16 || dst[1] != 81 {
		t.Errorf("Sqr = %v", dst)
	}

	b := []float32{float32(math.E)}
	dstLog := make([]float32, 1)
	Log(1, dstLog, b)
	if !approxEqual(dstLog[0], 1, 1e-5) {
		t.Errorf("Log(e) = %v, want 1", dstLog[0])
	}
}

func TestCopySet(t *testing.T) {
	a := []float32{1, 2, 3}
	dst := make([]float32, 3)
	Copy(3, dst, a)
	if dst[0] != 1 || dst[1] != 2 || dst[2] != 3 {
		t.Errorf("Copy = %v", dst)
	}

	Set(3, dst, 9)
	if dst[0] != 9 || dst[1] != 9 || dst[2] != 9 {
		t.Errorf("Set = %v", dst)
	}
}

func TestSiluBackward(t *testing.T) {
	x := []float32{0}
	grad := []float32{1}
	dst := make([]float32, 1)
	SiluBackward(1, dst, x, grad)
	// silu'(0) = 0.5
	if !approxEqual(dst[0], 0.5, 1e-3) {
		t.Errorf("SiluBackward(0) = %v, want ~0.5", dst[0])
	}
}
