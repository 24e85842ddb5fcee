package memory

import (
	"math"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	in := []float32{0.1, -2.5, 0, 1e-7, 3.14159}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("element %d = %f, want %f", i, out[i], in[i])
		}
	}
}

func TestDecodeFloat32s_BadLength(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("decoding 3 bytes succeeded, want error")
	}
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0, 0}

	tests := []struct {
		name string
		b    []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{0, 1, 0}, 0},
		{"opposite", []float32{-1, 0, 0}, -1},
		{"zero vector", []float32{0, 0, 0}, 0},
		{"length mismatch", []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(a, tt.b, norm(a))
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("cosine = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosine_ZeroQueryNorm(t *testing.T) {
	zero := []float32{0, 0, 0}
	if got := cosine(zero, []float32{1, 2, 3}, norm(zero)); got != 0 {
		t.Errorf("cosine with zero query norm = %f, want 0", got)
	}
}
