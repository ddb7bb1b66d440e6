package vector

import (
	"fmt"
	"sort"

	"github.com/viant/vec/search"
)

// CosineStore is an exact store that scores with viant/vec's cosine kernel.
// Entry magnitudes are cached so zero vectors score 0 without calling the
// kernel. Entries are stored exactly like MemoryStore; only the scoring differs.
type CosineStore struct {
	*MemoryStore
	magnitudes []float32
}

// NewCosineStore creates an empty cosine store. A dimensions of 0 lets the
// first Add fix the dimension.
func NewCosineStore(dimensions int) (*CosineStore, error) {
	m, err := NewMemoryStore(dimensions)
	if err != nil {
		return nil, err
	}
	return &CosineStore{MemoryStore: m}, nil
}

// Add normalizes and appends vectors, caching their magnitudes.
func (c *CosineStore) Add(vectors [][]float32, texts []string) error {
	before := c.MemoryStore.Size()
	if err := c.MemoryStore.Add(vectors, texts); err != nil {
		return err
	}
	for _, v := range c.MemoryStore.vectors[before:] {
		c.magnitudes = append(c.magnitudes, search.Float32s(v).Magnitude())
	}
	return nil
}

// Search returns the top-k entries by cosine similarity. Equal scores keep
// insertion order.
func (c *CosineStore) Search(query []float32, k int) ([]Result, error) {
	m := c.MemoryStore
	if k <= 0 || len(m.vectors) == 0 {
		return []Result{}, nil
	}
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d, store has %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	q := search.Float32s(query)
	qm := q.Magnitude()

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(m.vectors))
	for i, vec := range m.vectors {
		s := 0.0
		if qm > 0 && c.magnitudes[i] > 0 {
			s = 1 - float64(q.CosineDistance(vec))
		}
		scores[i] = scored{idx: i, score: s}
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

var _ Store = (*CosineStore)(nil)
