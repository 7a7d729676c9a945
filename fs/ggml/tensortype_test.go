package ggml

import "testing"

func TestTensorTypeBlockSize(t *testing.T) {
	tests := []struct {
		typ  TensorType
		len  int
		size int
	}{
		{TensorTypeF32, 1, 4},
		{TensorTypeF16, 1, 2},
		{TensorTypeQ4_0, 32, 2 + 16},
		{TensorTypeQ4_1, 32, 2 + 2 + 16},
		{TensorTypeQ5_0, 32, 2 + 4 + 16},
		{TensorTypeQ5_1, 32, 2 + 2 + 4 + 16},
		{TensorTypeQ8_0, 32, 2 + 32},
		{TensorTypeQ8_1, 32, 4 + 4 + 32},
		{TensorTypeQ2_K, 256, 16 + 64 + 2 + 2},
		{TensorTypeQ8_K, 256, 4 + 256 + 32},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := tt.typ.BlockLen(); got != tt.len {
				t.Errorf("BlockLen() = %d, want %d", got, tt.len)
			}
			if got := tt.typ.BlockSize(); got != tt.size {
				t.Errorf("BlockSize() = %d, want %d", got, tt.size)
			}
		})
	}
}

func TestTensorTypeRoundTripString(t *testing.T) {
	for typ := TensorTypeF32; typ <= TensorTypeI32; typ++ {
		got, err := ParseTensorType(typ.String())
		if err != nil {
			t.Fatalf("ParseTensorType(%q): %v", typ.String(), err)
		}
		if got != typ {
			t.Errorf("ParseTensorType(%q) = %v, want %v", typ.String(), got, typ)
		}
	}
}

func TestTensorTypeDotType(t *testing.T) {
	tests := []struct {
		typ  TensorType
		want TensorType
	}{
		{TensorTypeQ4_0, TensorTypeQ8_0},
		{TensorTypeQ4_1, TensorTypeQ8_1},
		{TensorTypeQ5_0, TensorTypeQ8_0},
		{TensorTypeQ5_1, TensorTypeQ8_1},
		{TensorTypeQ8_0, TensorTypeQ8_0},
		{TensorTypeQ8_1, TensorTypeQ8_1},
		{TensorTypeQ4_K, TensorTypeQ8_K},
		{TensorTypeQ6_K, TensorTypeQ8_K},
		{TensorTypeF32, TensorTypeF32},
	}

	for _, tt := range tests {
		if got := tt.typ.DotType(); got != tt.want {
			t.Errorf("%v.DotType() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestIsQuantizedIsFloat(t *testing.T) {
	for _, typ := range []TensorType{TensorTypeF32, TensorTypeF16} {
		if typ.IsQuantized() {
			t.Errorf("%v.IsQuantized() = true, want false", typ)
		}
		if !typ.IsFloat() {
			t.Errorf("%v.IsFloat() = false, want true", typ)
		}
	}
	for _, typ := range []TensorType{TensorTypeQ4_0, TensorTypeQ8_K, TensorTypeI8} {
		if typ == TensorTypeI8 {
			if typ.IsQuantized() {
				t.Errorf("%v.IsQuantized() = true, want false", typ)
			}
			continue
		}
		if !typ.IsQuantized() {
			t.Errorf("%v.IsQuantized() = false, want true", typ)
		}
		if typ.IsFloat() {
			t.Errorf("%v.IsFloat() = true, want false", typ)
		}
	}
}

func TestParseTensorTypeUnknown(t *testing.T) {
	if _, err := ParseTensorType("GIBBERISH"); err == nil {
		t.Errorf("ParseTensorType(\"GIBBERISH\") succeeded, want error")
	}
}
