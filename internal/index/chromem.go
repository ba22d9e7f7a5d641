package index

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"manual-rag/internal/manual"
)

// Chromem is an embedded vector store backed by chromem-go. With a path it
// persists under that directory; with an empty path it lives in memory but
// still exercises the same ANN machinery as the persistent form.
type Chromem struct {
	db   *chromem.DB
	col  *chromem.Collection
	name string
}

// NewChromem opens (or creates) a chromem collection. An empty path selects
// the non-persistent database.
func NewChromem(path, collection string) (*Chromem, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", collection, err)
	}
	return &Chromem{db: db, col: col, name: collection}, nil
}

func (c *Chromem) Reset(ctx context.Context) error {
	if err := c.db.DeleteCollection(c.name); err != nil {
		return fmt.Errorf("delete collection %s: %w", c.name, err)
	}
	col, err := c.db.GetOrCreateCollection(c.name, nil, nil)
	if err != nil {
		return fmt.Errorf("recreate collection %s: %w", c.name, err)
	}
	c.col = col
	return nil
}

func (c *Chromem) Add(ctx context.Context, entries []Entry) error {
	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		if err := manual.ValidateEmbedding(e.Vector); err != nil {
			return err
		}
		docs = append(docs, chromem.Document{
			ID:      uuid.New().String(),
			Content: e.Query,
			Metadata: map[string]string{
				"filename":   e.Filename,
				"page":       strconv.Itoa(e.Page),
				"section":    e.Section,
				"subsection": e.Subsection,
			},
			Embedding: e.Vector,
		})
	}
	if err := c.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

func (c *Chromem) Query(ctx context.Context, vector []float32, limit int) ([]Scored, error) {
	if err := manual.ValidateEmbedding(vector); err != nil {
		return nil, err
	}
	count := c.col.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem rejects NResults larger than the collection.
	n := min(limit, count)
	if n < 1 {
		n = count
	}
	results, err := c.col.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	scored := make([]Scored, 0, len(results))
	for _, r := range results {
		page, _ := strconv.Atoi(r.Metadata["page"])
		scored = append(scored, Scored{
			Entry: Entry{
				Filename:   r.Metadata["filename"],
				Page:       page,
				Section:    r.Metadata["section"],
				Subsection: r.Metadata["subsection"],
				Query:      r.Content,
			},
			Score: float64(r.Similarity),
		})
	}
	return scored, nil
}

func (c *Chromem) Count(ctx context.Context) (int, error) {
	return c.col.Count(), nil
}

func (c *Chromem) Close() error {
	return nil
}
