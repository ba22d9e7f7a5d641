package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"manual-rag/internal/embedding"
	"manual-rag/internal/manual"
)

const (
	// DefaultThreshold is the minimum cosine similarity a chunk must reach
	// to count as relevant.
	DefaultThreshold = 0.6

	// DefaultLimit is how many distinct documents a search returns.
	DefaultLimit = 5

	// DefaultOverfetch is the multiplier applied to the limit when querying
	// the store. Many of the nearest chunks collapse into the same document,
	// so fetching only limit entries would starve the result.
	DefaultOverfetch = 3
)

// Searcher answers natural-language questions with the manuals most likely
// to contain the answer. It embeds the question, queries the store and
// keeps the best-scoring chunk per document.
type Searcher struct {
	store     Store
	embedder  embedding.Embedder
	threshold float64
	limit     int
	overfetch int
	logger    *slog.Logger
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithThreshold overrides the relevance threshold.
func WithThreshold(t float64) SearcherOption {
	return func(s *Searcher) { s.threshold = t }
}

// WithLimit overrides how many documents a search returns.
func WithLimit(n int) SearcherOption {
	return func(s *Searcher) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithOverfetch overrides the store-query multiplier.
func WithOverfetch(n int) SearcherOption {
	return func(s *Searcher) {
		if n > 0 {
			s.overfetch = n
		}
	}
}

// WithSearchLogger sets the logger used for search diagnostics.
func WithSearchLogger(l *slog.Logger) SearcherOption {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearcher builds a searcher over a store and an embedder. The embedder
// must be the same model family the index was built with; callers verify
// that against the dataset manifest before constructing one.
func NewSearcher(store Store, embedder embedding.Embedder, opts ...SearcherOption) *Searcher {
	s := &Searcher{
		store:     store,
		embedder:  embedder,
		threshold: DefaultThreshold,
		limit:     DefaultLimit,
		overfetch: DefaultOverfetch,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns the best-matching documents for the query, highest score
// first, at most one result per document. Returns ErrNoRelevantDocument
// when nothing clears the threshold.
func (s *Searcher) Search(ctx context.Context, query string) ([]manual.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, manual.ErrEmptyQuery
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors, want 1", len(vectors))
	}
	if err := manual.ValidateEmbedding(vectors[0]); err != nil {
		return nil, err
	}

	fetch := s.limit * s.overfetch
	scored, err := s.store.Query(ctx, vectors[0], fetch)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	// Keep the best chunk per document. Does not assume the store returned
	// entries in score order.
	best := make(map[string]Scored)
	for _, hit := range scored {
		if hit.Score < s.threshold {
			continue
		}
		if prev, ok := best[hit.Filename]; !ok || hit.Score > prev.Score {
			best[hit.Filename] = hit
		}
	}
	if len(best) == 0 {
		s.logger.Debug("search found nothing above threshold",
			"query", query,
			"fetched", len(scored),
			"threshold", s.threshold)
		return nil, fmt.Errorf("%w for %q", ErrNoRelevantDocument, query)
	}

	results := make([]manual.Result, 0, len(best))
	for _, hit := range best {
		results = append(results, manual.Result{
			Filename:       hit.Filename,
			Page:           hit.Page,
			SectionName:    hit.Section,
			SubsectionName: hit.Subsection,
			Query:          hit.Query,
			Score:          hit.Score,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Filename < results[j].Filename
	})
	if len(results) > s.limit {
		results = results[:s.limit]
	}

	s.logger.Debug("search complete",
		"query", query,
		"fetched", len(scored),
		"documents", len(results),
		"top_score", results[0].Score)
	return results, nil
}
