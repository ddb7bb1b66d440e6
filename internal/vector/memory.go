package vector

import (
	"fmt"
	"sort"

	"github.com/hyperjump/stitch/pkg/utils"
)

// MemoryStore is an exact brute-force inner-product store. Every query is
// compared against every entry.
type MemoryStore struct {
	dimensions int
	texts      []string
	vectors    [][]float32
}

// NewMemoryStore creates an empty store. A dimensions of 0 lets the first Add
// fix the dimension.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions < 0 {
		return nil, fmt.Errorf("dimensions must not be negative")
	}
	return &MemoryStore{
		dimensions: dimensions,
		texts:      make([]string, 0),
		vectors:    make([][]float32, 0),
	}, nil
}

// Add copies, normalizes, and appends vectors. Either all entries are added or none.
func (m *MemoryStore) Add(vectors [][]float32, texts []string) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: %d vectors, %d texts", ErrLengthMismatch, len(vectors), len(texts))
	}
	if len(vectors) == 0 {
		return nil
	}
	dim := m.dimensions
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return fmt.Errorf("%w: entry %d has %d, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	for i, v := range vectors {
		m.vectors = append(m.vectors, utils.Normalized(v))
		m.texts = append(m.texts, texts[i])
	}
	m.dimensions = dim
	return nil
}

// Search returns the top-k entries by inner product with query. The query is
// expected to be normalized already, which makes the score a cosine similarity.
// Equal scores keep insertion order.
func (m *MemoryStore) Search(query []float32, k int) ([]Result, error) {
	if k <= 0 || len(m.vectors) == 0 {
		return []Result{}, nil
	}
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d, store has %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(m.vectors))
	for i, vec := range m.vectors {
		scores[i] = scored{idx: i, score: utils.Dot(query, vec)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if k > len(scores) {
		k = len(scores)
	}
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = Result{Text: m.texts[scores[i].idx], Score: clampCosine(scores[i].score)}
	}
	return results, nil
}

// clampCosine removes float rounding that pushes a unit-vector dot product just outside [-1, 1].
func clampCosine(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// Size returns the number of entries.
func (m *MemoryStore) Size() int {
	return len(m.vectors)
}

// Dimensions returns the store's vector dimension.
func (m *MemoryStore) Dimensions() int {
	return m.dimensions
}

// Entries returns copies of the stored texts and vectors.
func (m *MemoryStore) Entries() ([]string, [][]float32) {
	texts := append([]string(nil), m.texts...)
	vectors := make([][]float32, len(m.vectors))
	for i, v := range m.vectors {
		vectors[i] = append([]float32(nil), v...)
	}
	return texts, vectors
}

var _ Store = (*MemoryStore)(nil)
