package vector

import "fmt"

// IndexType represents the type of vector store to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeCosine is brute-force search scored with the viant/vec cosine kernel.
	IndexTypeCosine IndexType = "cosine"
)

// NewStore creates a vector store of the specified type.
// An empty type selects the memory store.
func NewStore(indexType string, dimensions int) (Store, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		store, err := NewMemoryStore(dimensions)
		if err != nil {
			return nil, err
		}
		return store, nil
	case IndexTypeCosine:
		store, err := NewCosineStore(dimensions)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, cosine)", indexType)
	}
}

// FromEntries builds a store of the given type holding texts and vectors.
// Vectors are normalized again on the way in, which is a no-op for vectors
// that were persisted after normalization.
func FromEntries(indexType string, texts []string, vectors [][]float32) (Store, error) {
	store, err := NewStore(indexType, 0)
	if err != nil {
		return nil, err
	}
	if err := store.Add(vectors, texts); err != nil {
		return nil, err
	}
	return store, nil
}
