package models

import "github.com/hyperjump/stitch/internal/vector"

// ResultItem is one ranked chunk.
type ResultItem struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// QueryResponse is the response for a query.
type QueryResponse struct {
	Query     string       `json:"query"`
	Results   []ResultItem `json:"results"`
	Total     int          `json:"total"`
	QueryTime int64        `json:"query_time_ms"`
}

// NewQueryResponse ranks results from 1 in the order given.
func NewQueryResponse(query string, results []vector.Result, queryTimeMS int64) *QueryResponse {
	items := make([]ResultItem, len(results))
	for i, r := range results {
		items[i] = ResultItem{Text: r.Text, Score: r.Score, Rank: i + 1}
	}
	return &QueryResponse{
		Query:     query,
		Results:   items,
		Total:     len(items),
		QueryTime: queryTimeMS,
	}
}

// StatusResponse describes the index and its configuration.
type StatusResponse struct {
	State          string `json:"state"`
	Chunks         int    `json:"chunks"`
	Dimensions     int    `json:"dimensions"`
	Fingerprint    string `json:"fingerprint,omitempty"`
	Model          string `json:"model"`
	VaultDir       string `json:"vault_dir"`
	StorageBackend string `json:"storage_backend"`
	StorageDir     string `json:"storage_dir"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
	Watching       bool   `json:"watching"`
}
