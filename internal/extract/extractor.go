// Package extract turns vault files into plain text for chunking.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type formatFunc func(content []byte) (string, error)

// Extractor converts document bytes to text based on the file extension.
// Markdown and other text formats pass through; PDF and XLSX are decoded.
type Extractor struct {
	formats map[string]formatFunc
}

// NewExtractor returns an Extractor with the built-in formats registered.
func NewExtractor() *Extractor {
	return &Extractor{
		formats: map[string]formatFunc{
			".md":   extractPlain,
			".txt":  extractPlain,
			".rst":  extractPlain,
			".pdf":  extractPDF,
			".xlsx": extractExcel,
		},
	}
}

// Supports reports whether ext (with leading dot) has a dedicated decoder.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.formats[strings.ToLower(ext)]
	return ok
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content. Unknown extensions are treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := e.formats[strings.ToLower(ext)]
	if !ok {
		fn = extractPlain
	}
	return fn(content)
}
