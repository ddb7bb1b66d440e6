package indexer

import "strings"

// Preprocess trims text and collapses every whitespace run to one space.
// Queries go through it so that cache keys and embeddings ignore formatting.
func Preprocess(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
