package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector serializes v as little-endian IEEE-754 float32 values.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector parses a buffer written by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector payload length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// encodeVectors concatenates vectors into one payload.
func encodeVectors(vectors [][]float32, dim int) []byte {
	buf := make([]byte, 0, 4*dim*len(vectors))
	for _, v := range vectors {
		buf = append(buf, EncodeVector(v)...)
	}
	return buf
}

// decodeVectors splits a payload into count vectors of dim values.
func decodeVectors(b []byte, count, dim int) ([][]float32, error) {
	if len(b) != 4*count*dim {
		return nil, fmt.Errorf("vector payload has %d bytes, expected %d (%d x %d)", len(b), 4*count*dim, count, dim)
	}
	out := make([][]float32, count)
	for i := range out {
		start := 4 * dim * i
		v, err := DecodeVector(b[start : start+4*dim])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
