// Package vector provides the in-memory vector store and exact similarity search.
package vector

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the
	// store's dimension. It signals a configuration error (e.g. the embedding
	// model changed) and is never resolved by truncating or padding.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrLengthMismatch is returned by Add when vectors and texts differ in length.
	ErrLengthMismatch = errors.New("vectors and texts length mismatch")
)

// Store holds unit-normalized vectors with their chunk texts and answers
// top-k inner-product queries. Entry i's vector corresponds to entry i's text.
// Implementations are not required to be safe for concurrent use.
type Store interface {
	// Add normalizes and appends vectors with their texts.
	Add(vectors [][]float32, texts []string) error
	// Search returns at most k entries ranked by descending inner product with query.
	Search(query []float32, k int) ([]Result, error)
	// Size returns the number of entries.
	Size() int
	// Dimensions returns the vector dimension, or 0 before the first Add.
	Dimensions() int
	// Entries returns copies of the stored texts and vectors in insertion order.
	Entries() (texts []string, vectors [][]float32)
}

// Result is a single search hit.
type Result struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"` // cosine similarity in [-1, 1]
}
