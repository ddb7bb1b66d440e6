package embedding

import (
	"strings"
	"unicode"
)

const (
	clsTokenID   = 101
	sepTokenID   = 102
	vocabSize    = 30000
	reservedBase = 1000 // IDs below this belong to special tokens
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer lower-cases text, splits words and punctuation, and maps
// each piece to a hashed vocabulary ID. It has no real vocabulary, so it only
// approximates the model's own tokenizer.
type SimpleTokenizer struct{}

// Tokenize returns [CLS] tokens... [SEP] padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1

	pos := 1
	for _, piece := range SplitWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(reservedBase + HashString(piece)%(vocabSize-reservedBase))
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepTokenID
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords lower-cases text and splits it into words, emitting each
// punctuation rune as its own piece.
func SplitWords(text string) []string {
	var pieces []string
	for _, field := range strings.Fields(strings.ToLower(text)) {
		start := -1
		for i, r := range field {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				if start >= 0 {
					pieces = append(pieces, field[start:i])
					start = -1
				}
				pieces = append(pieces, string(r))
				continue
			}
			if start < 0 {
				start = i
			}
		}
		if start >= 0 {
			pieces = append(pieces, field[start:])
		}
	}
	return pieces
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 { // math.MinInt
		h = 0
	}
	return h
}
