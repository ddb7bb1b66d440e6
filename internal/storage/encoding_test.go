package storage

import (
	"math"
	"testing"
)

func TestEncodeVector_LittleEndian(t *testing.T) {
	b := EncodeVector([]float32{1})
	// 1.0f = 0x3f800000
	want := []byte{0x00, 0x00, 0x80, 0x3f}
	if string(b) != string(want) {
		t.Errorf("EncodeVector(1) = %x, want %x", b, want)
	}
}

func TestDecodeVector(t *testing.T) {
	in := []float32{0, -1.5, 3.25, float32(math.Inf(1))}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestDecodeVectors_SizeCheck(t *testing.T) {
	payload := encodeVectors([][]float32{{1, 2}, {3, 4}}, 2)
	if _, err := decodeVectors(payload, 2, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := decodeVectors(payload, 3, 2); err == nil {
		t.Error("expected error when count does not match payload")
	}
	if _, err := decodeVectors(payload[:12], 2, 2); err == nil {
		t.Error("expected error for short payload")
	}
}
