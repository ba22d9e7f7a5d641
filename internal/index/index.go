// Package index is the retrieval side of the system: vector store
// backends over the embedded dataset, and the thresholded, per-document
// deduplicated search on top of them.
package index

import (
	"context"
	"errors"
	"fmt"

	"manual-rag/internal/manual"
)

var (
	// ErrNoRelevantDocument is returned when no indexed chunk clears the
	// relevance threshold for a query.
	ErrNoRelevantDocument = errors.New("no relevant document")

	// ErrStoreUnreachable wraps backend connection failures.
	ErrStoreUnreachable = errors.New("vector store unreachable")
)

// Entry is one indexed chunk: a stored query vector and the document
// location it points back to.
type Entry struct {
	Filename   string
	Page       int
	Section    string
	Subsection string
	Query      string
	Vector     []float32
}

// Scored is an entry with its similarity to a query vector.
type Scored struct {
	Entry
	Score float64
}

// Store is a vector index over entries. Query returns the closest entries
// in descending score order; limit bounds the result, not the scan.
type Store interface {
	Reset(ctx context.Context) error
	Add(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, limit int) ([]Scored, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// FromRecords converts embedded dataset rows to entries. Rows without an
// embedding are skipped: they are not searchable yet.
func FromRecords(records []manual.ChunkRecord) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		if !r.Embedded() {
			continue
		}
		entries = append(entries, Entry{
			Filename:   r.PDFFilename,
			Page:       r.Page,
			Section:    r.SectionName,
			Subsection: r.SubsectionName,
			Query:      r.Query,
			Vector:     r.Embedding,
		})
	}
	return entries
}

// Load resets the store and fills it from the dataset, returning how many
// entries were indexed.
func Load(ctx context.Context, s Store, records []manual.ChunkRecord) (int, error) {
	entries := FromRecords(records)
	if err := s.Reset(ctx); err != nil {
		return 0, fmt.Errorf("reset index: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := s.Add(ctx, entries); err != nil {
		return 0, fmt.Errorf("load index: %w", err)
	}
	return len(entries), nil
}
