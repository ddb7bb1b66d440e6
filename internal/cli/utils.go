// Package cli formats query results and prompts for the stitch command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/stitch/internal/models"
	"github.com/hyperjump/stitch/pkg/utils"
)

// OutputFormat is the format for query result output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("invalid output format %q (use text, compact or json)", s)
	}
}

// WriteResults writes a query response to w in the given format.
// Unknown formats are written as text.
func WriteResults(w io.Writer, response *models.QueryResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	case OutputCompact:
		return writeCompact(w, response)
	default:
		return writeText(w, response)
	}
}

func writeText(w io.Writer, response *models.QueryResponse) error {
	if _, err := fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime); err != nil {
		return err
	}
	for _, r := range response.Results {
		_, err := fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n"+
			"Rank: %d | Score: %.4f\n\n%s\n\n", r.Rank, r.Score, utils.Truncate(r.Text, 400))
		if err != nil {
			return err
		}
	}
	return nil
}

func writeCompact(w io.Writer, response *models.QueryResponse) error {
	for _, r := range response.Results {
		if _, err := fmt.Fprintf(w, "%d\t%.4f\t%s\n", r.Rank, r.Score, utils.Truncate(utils.SingleLine(r.Text), 120)); err != nil {
			return err
		}
	}
	return nil
}

// FormatPrompt assembles the prompt handed to a language model: the retrieved
// chunks as context followed by the question. Without results only the
// question is included.
func FormatPrompt(question string, results []models.ResultItem) string {
	if len(results) == 0 {
		return fmt.Sprintf("Question: %s\nAnswer:", question)
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s\nAnswer:", strings.Join(texts, "\n\n"), question)
}
