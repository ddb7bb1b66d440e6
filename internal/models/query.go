// Package models defines the request and response types shared by the HTTP API and the CLI.
package models

import (
	"fmt"
	"strings"
)

// QueryRequest asks for the chunks most similar to Query.
type QueryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Validate rejects blank queries and clamps TopK into [1, maxTopK], using
// defaultTopK when it is unset.
func (q *QueryRequest) Validate(defaultTopK, maxTopK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if q.TopK <= 0 {
		q.TopK = 5
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}
