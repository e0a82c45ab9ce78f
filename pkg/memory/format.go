package memory

import (
	"fmt"
	"math"
	"strings"
)

const (
	// SearchPreviewChars bounds content shown for interactive display
	SearchPreviewChars = 500
	// InjectPreviewChars bounds content injected into a conversation
	InjectPreviewChars = 200

	truncationMarker = "..."
	injectHeader     = "## Relevant Memories (auto-recalled)"
)

// Preview truncates s to n runes and appends the truncation marker when cut
func Preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + truncationMarker
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// FormatSearchText renders results for a terminal
func FormatSearchText(results []SimilarityResult) string {
	if len(results) == 0 {
		return "No matching memories found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant memories:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "─── Result %d (%.1f%% match) ───\n", i+1, r.Similarity*100)
		fmt.Fprintf(&b, "Source: %s / %s\n", r.SourceType, r.DisplayID())
		fmt.Fprintf(&b, "Content: %s\n\n", Preview(r.Content, SearchPreviewChars))
	}
	return b.String()
}

// FormatInjection renders results as a context block for automatic
// injection. No results yields an empty string.
func FormatInjection(results []SimilarityResult) string {
	if len(results) == 0 {
		return ""
	}

	lines := make([]string, 0, len(results)+1)
	lines = append(lines, injectHeader)
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- [%s/%s] (%d%%): %s",
			r.SourceType, r.DisplayID(),
			int(math.Round(r.Similarity*100)),
			Preview(r.Content, InjectPreviewChars),
		))
	}
	return strings.Join(lines, "\n")
}

// SearchItem is one entry of structured search output
type SearchItem struct {
	SourceType string  `json:"source_type"`
	SourceID   string  `json:"source_id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// SearchOutput is the structured search response. Error is null on success.
type SearchOutput struct {
	Query   string       `json:"query"`
	Results []SearchItem `json:"results"`
	Count   int          `json:"count"`
	Error   *string      `json:"error"`
}

// NewSearchOutput builds structured search output
func NewSearchOutput(query string, results []SimilarityResult, err error) SearchOutput {
	out := SearchOutput{Query: query, Results: make([]SearchItem, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchItem{
			SourceType: string(r.SourceType),
			SourceID:   r.DisplayID(),
			Content:    r.Content,
			Similarity: roundTo(r.Similarity, 4),
		})
	}
	out.Count = len(out.Results)
	if err != nil {
		msg := err.Error()
		out.Error = &msg
	}
	return out
}

// RecallItem is one entry of structured recall output
type RecallItem struct {
	Source     string  `json:"source"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// RecallOutput is the structured recall response
type RecallOutput struct {
	Query    string       `json:"query"`
	Memories []RecallItem `json:"memories"`
	Count    int          `json:"count"`
	Error    *string      `json:"error"`
}

// NewRecallOutput builds structured recall output
func NewRecallOutput(res RecallResult) RecallOutput {
	out := RecallOutput{Query: res.Query, Memories: make([]RecallItem, 0, len(res.Memories))}
	for _, m := range res.Memories {
		out.Memories = append(out.Memories, RecallItem{
			Source:     fmt.Sprintf("%s/%s", m.SourceType, m.DisplayID()),
			Content:    Preview(m.Content, SearchPreviewChars),
			Similarity: roundTo(m.Similarity, 3),
		})
	}
	out.Count = len(out.Memories)
	if res.Err != nil {
		msg := res.Err.Error()
		out.Error = &msg
	}
	return out
}
