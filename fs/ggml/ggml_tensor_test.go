package ggml

import "testing"

func TestShapeElements(t *testing.T) {
	s := Shape{4, 3, 1, 1}
	if got := s.Elements(); got != 12 {
		t.Errorf("Elements() = %d, want 12", got)
	}
}

func TestShapeRank(t *testing.T) {
	tests := []struct {
		shape Shape
		rank  int
	}{
		{Shape{2, 1, 1, 1}, 1},
		{Shape{2, 3, 1, 1}, 2},
		{Shape{2, 3, 4, 1}, 3},
		{Shape{2, 3, 4, 5}, 4},
		{Shape{1, 1, 1, 1}, 1},
	}
	for _, tt := range tests {
		if got := tt.shape.Rank(); got != tt.rank {
			t.Errorf("%v.Rank() = %d, want %d", tt.shape, got, tt.rank)
		}
	}
}

func TestStridesContiguousF32(t *testing.T) {
	shape := Shape{2, 3, 1, 1}
	nb := Strides(TensorTypeF32, shape)
	want := [MaxDims]int{4, 8, 24, 24}
	if nb != want {
		t.Errorf("Strides() = %v, want %v", nb, want)
	}
	if !IsContiguous(TensorTypeF32, shape, nb) {
		t.Errorf("IsContiguous() = false, want true")
	}
}

func TestStridesQuantized(t *testing.T) {
	shape := Shape{64, 2, 1, 1}
	nb := Strides(TensorTypeQ4_0, shape)
	// row of 64 elements = 2 blocks of 32 -> 2*18 = 36 bytes
	if nb[0] != 18 || nb[1] != 36 {
		t.Errorf("Strides() = %v, want nb[0]=18 nb[1]=36", nb)
	}
}

func TestByteSize(t *testing.T) {
	shape := Shape{2, 3, 1, 1}
	nb := Strides(TensorTypeF32, shape)
	if got := ByteSize(TensorTypeF32, shape, nb); got != 24 {
		t.Errorf("ByteSize() = %d, want 24", got)
	}
}

func TestIsContiguousFalseForView(t *testing.T) {
	shape := Shape{2, 3, 1, 1}
	nb := Strides(TensorTypeF32, shape)
	nb[1] *= 2 // simulate a strided view
	if IsContiguous(TensorTypeF32, shape, nb) {
		t.Errorf("IsContiguous() = true, want false")
	}
}

func TestBroadcastable(t *testing.T) {
	tests := []struct {
		dst, src Shape
		want     bool
	}{
		{Shape{4, 4, 1, 1}, Shape{4, 4, 1, 1}, true},
		{Shape{4, 4, 1, 1}, Shape{4, 1, 1, 1}, true},
		{Shape{4, 4, 1, 1}, Shape{3, 1, 1, 1}, false},
		{Shape{4, 4, 1, 1}, Shape{0, 1, 1, 1}, false},
	}
	for _, tt := range tests {
		if got := Broadcastable(tt.dst, tt.src); got != tt.want {
			t.Errorf("Broadcastable(%v, %v) = %v, want %v", tt.dst, tt.src, got, tt.want)
		}
	}
}
