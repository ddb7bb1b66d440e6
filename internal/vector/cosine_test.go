package vector

import (
	"errors"
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-5 }

func TestCosineStore_MatchesMemoryStore(t *testing.T) {
	vectors := [][]float32{{1, 0, 0}, {3, 4, 0}, {0, 0, 2}, {-1, 0, 0}, {1, 1, 1}}
	texts := []string{"x", "xy", "z", "neg", "diag"}

	mem, _ := NewMemoryStore(3)
	cos, _ := NewCosineStore(3)
	if err := mem.Add(vectors, texts); err != nil {
		t.Fatal(err)
	}
	if err := cos.Add(vectors, texts); err != nil {
		t.Fatal(err)
	}

	query := []float32{0.6, 0.8, 0}
	want, _ := mem.Search(query, 5)
	got, err := cos.Search(query, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Text != want[i].Text || !near(got[i].Score, want[i].Score) {
			t.Errorf("result %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if got[0].Text != "xy" || !near(got[0].Score, 1) {
		t.Errorf("top = %+v, want xy with score 1", got[0])
	}
}

func TestCosineStore_Edges(t *testing.T) {
	cos, _ := NewCosineStore(0)
	if res, err := cos.Search([]float32{1}, 3); err != nil || len(res) != 0 {
		t.Errorf("empty store: %v, %v", res, err)
	}
	if err := cos.Add([][]float32{{1, 0}, {0, 1}}, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := cos.Search([]float32{1, 0, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	res, err := cos.Search([]float32{0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res {
		if r.Score != 0 {
			t.Errorf("zero query score = %v, want 0", r.Score)
		}
	}
	if err := cos.Add([][]float32{{1, 2, 3}}, []string{"bad"}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if cos.Size() != 2 || len(cos.magnitudes) != 2 {
		t.Errorf("failed Add changed the store: size=%d magnitudes=%d", cos.Size(), len(cos.magnitudes))
	}
}
