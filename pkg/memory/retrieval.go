package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/mnemo/internal/observability"
	"github.com/harun/mnemo/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Mode selects retrieval defaults and failure posture
type Mode string

const (
	// ModeRecall is broad automatic recall that never fails the caller
	ModeRecall Mode = "recall"
	// ModeSearch is explicit, precision-biased search that reports failures
	ModeSearch Mode = "search"
)

// SearchOptions configures a retrieval
type SearchOptions struct {
	Limit     int     `json:"limit"`
	Threshold float64 `json:"threshold"`
}

// DefaultSearchOptions returns the defaults for a mode
func DefaultSearchOptions(mode Mode) SearchOptions {
	if mode == ModeRecall {
		return SearchOptions{Limit: 3, Threshold: 0.4}
	}
	return SearchOptions{Limit: 5, Threshold: 0.5}
}

// Validate checks limit and threshold bounds
func (o SearchOptions) Validate() error {
	if o.Limit < 1 {
		return &ConfigurationError{Op: "search options", Err: fmt.Errorf("limit must be at least 1, got %d", o.Limit)}
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return &ConfigurationError{Op: "search options", Err: fmt.Errorf("threshold must be between 0 and 1, got %g", o.Threshold)}
	}
	return nil
}

// Retriever ranks stored vectors against a query
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	logger   zerolog.Logger
}

// NewRetriever creates a retriever
func NewRetriever(embedder *Embedder, store VectorStore, logger zerolog.Logger) (*Retriever, error) {
	if embedder.Dimension() != store.Dimension() {
		return nil, ValidateVector(make([]float32, embedder.Dimension()), store.Dimension())
	}
	return &Retriever{embedder: embedder, store: store, logger: logger}, nil
}

// Search embeds query and returns at most opts.Limit results with
// similarity strictly above opts.Threshold, best first.
func (r *Retriever) Search(ctx context.Context, query string, opts SearchOptions) ([]SimilarityResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "memory.search",
		attribute.Int("limit", opts.Limit),
		attribute.Float64("threshold", opts.Threshold),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	if strings.TrimSpace(query) == "" {
		return []SimilarityResult{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return nil, err
	}

	neighbors, err := r.store.Nearest(ctx, vec, opts.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "nearest query failed")
		return nil, storeError("nearest", err)
	}

	results := RankNeighbors(neighbors, opts)

	logger.Debug().
		Int("candidates", len(neighbors)).
		Int("results", len(results)).
		Msg("Search completed")

	return results, nil
}

// RankNeighbors converts distances to similarity, keeps hits above the
// threshold and truncates to the limit. Ties keep the store order.
func RankNeighbors(neighbors []Neighbor, opts SearchOptions) []SimilarityResult {
	results := make([]SimilarityResult, 0, min(len(neighbors), max(opts.Limit, 0)))
	for _, n := range neighbors {
		similarity := 1.0 - n.Distance
		if similarity <= opts.Threshold {
			continue
		}
		results = append(results, SimilarityResult{
			SourceType: n.SourceType,
			SourceID:   n.SourceID,
			ChunkID:    n.ChunkID,
			Content:    n.Content,
			Similarity: similarity,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

// RecallResult is the outcome of proactive recall. Err is set instead of
// returning an error so callers never block on recall.
type RecallResult struct {
	Query    string
	Memories []SimilarityResult
	Err      error
}

// RetrieverFactory builds a retriever on demand, resolving credentials and
// opening the store.
type RetrieverFactory func(ctx context.Context) (*Retriever, func(), error)

// ProactiveRecall runs a recall query and degrades every failure to an
// empty result carrying the diagnostic.
func ProactiveRecall(ctx context.Context, open RetrieverFactory, query string, opts SearchOptions, logger zerolog.Logger) RecallResult {
	result := RecallResult{Query: query, Memories: []SimilarityResult{}}

	retriever, closeFn, err := open(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("Recall unavailable")
		observability.RecordRecall("unavailable")
		result.Err = err
		return result
	}
	if closeFn != nil {
		defer closeFn()
	}

	memories, err := retriever.Search(ctx, query, opts)
	if err != nil {
		logger.Debug().Err(err).Msg("Recall failed")
		observability.RecordRecall("error")
		result.Err = err
		return result
	}

	observability.RecordRecall("success")
	result.Memories = memories
	return result
}
