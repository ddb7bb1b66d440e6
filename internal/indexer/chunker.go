// Package indexer builds, persists and queries the knowledge index over a vault.
package indexer

import "strings"

// DefaultMaxWords is the chunk size used when none is configured.
const DefaultMaxWords = 500

// Chunker splits text into consecutive, non-overlapping word windows.
type Chunker struct {
	maxWords int
}

// NewChunker creates a chunker producing chunks of at most maxWords words.
// A non-positive maxWords selects DefaultMaxWords.
func NewChunker(maxWords int) *Chunker {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	return &Chunker{maxWords: maxWords}
}

// MaxWords returns the chunk size in words.
func (c *Chunker) MaxWords() int {
	return c.maxWords
}

// Chunk splits text using the chunker's size.
func (c *Chunker) Chunk(text string) []string {
	return ChunkWords(text, c.maxWords)
}

// ChunkWords splits text on whitespace into ceil(words/maxWords) chunks, each
// joined with single spaces. Every chunk holds exactly maxWords words except
// possibly the last. Blank text yields nil.
func ChunkWords(text string, maxWords int) []string {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(words)+maxWords-1)/maxWords)
	for start := 0; start < len(words); start += maxWords {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
