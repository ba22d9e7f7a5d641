package index

import (
	"context"
	"errors"
	"math"
	"testing"

	"manual-rag/internal/manual"
)

// dirVec returns a unit vector whose cosine similarity with axisVec is c.
func dirVec(c float64) []float32 {
	v := make([]float32, manual.EmbeddingDimension)
	v[0] = float32(c)
	v[1] = float32(math.Sqrt(1 - c*c))
	return v
}

func axisVec() []float32 {
	v := make([]float32, manual.EmbeddingDimension)
	v[0] = 1
	return v
}

func embeddedRecord(t *testing.T, filename string, page int, query string, vec []float32) manual.ChunkRecord {
	t.Helper()
	rec, err := manual.NewChunkRecord(filename, "説明", "第1章", "1.1 概要", page, query)
	if err != nil {
		t.Fatalf("NewChunkRecord: %v", err)
	}
	rec.Embedding = vec
	return rec
}

func TestMemoryQueryOrdersByScore(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	entries := []Entry{
		{Filename: "001.pdf", Page: 4, Query: "low", Vector: dirVec(0.5)},
		{Filename: "002.pdf", Page: 9, Query: "high", Vector: dirVec(0.9)},
		{Filename: "003.pdf", Page: 2, Query: "mid", Vector: dirVec(0.7)},
	}
	if err := store.Add(ctx, entries); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := store.Query(ctx, axisVec(), 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	wantOrder := []string{"002.pdf", "003.pdf", "001.pdf"}
	wantScores := []float64{0.9, 0.7, 0.5}
	for i := range wantOrder {
		if hits[i].Filename != wantOrder[i] {
			t.Errorf("hit %d: got %s, want %s", i, hits[i].Filename, wantOrder[i])
		}
		if math.Abs(hits[i].Score-wantScores[i]) > 1e-5 {
			t.Errorf("hit %d: got score %v, want %v", i, hits[i].Score, wantScores[i])
		}
	}
}

func TestMemoryQueryAppliesLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	var entries []Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, Entry{
			Filename: manual.FormatName(i + 1),
			Page:     1,
			Vector:   dirVec(0.1 + float64(i)*0.05),
		})
	}
	if err := store.Add(ctx, entries); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := store.Query(ctx, axisVec(), 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	// The three closest entries are the last three added.
	if hits[0].Filename != "010.pdf" || hits[2].Filename != "008.pdf" {
		t.Errorf("got %s..%s, want 010.pdf..008.pdf", hits[0].Filename, hits[2].Filename)
	}
}

func TestMemoryRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	err := store.Add(ctx, []Entry{{Filename: "001.pdf", Vector: make([]float32, 10)}})
	if !errors.Is(err, manual.ErrDimensionMismatch) {
		t.Errorf("Add: got %v, want ErrDimensionMismatch", err)
	}

	_, err = store.Query(ctx, make([]float32, 10), 5)
	if !errors.Is(err, manual.ErrDimensionMismatch) {
		t.Errorf("Query: got %v, want ErrDimensionMismatch", err)
	}
}

func TestMemoryReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Add(ctx, []Entry{{Filename: "001.pdf", Vector: dirVec(0.8)}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("got count %d after reset, want 0", n)
	}
	hits, err := store.Query(ctx, axisVec(), 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits after reset, want 0", len(hits))
	}
}

func TestFromRecordsSkipsUnembedded(t *testing.T) {
	embedded := embeddedRecord(t, "001.pdf", 12, "電源の入れ方は？", dirVec(0.9))
	pending, err := manual.NewChunkRecord("002.pdf", "", "全体", "全体", 1, "保証期間は？")
	if err != nil {
		t.Fatalf("NewChunkRecord: %v", err)
	}

	entries := FromRecords([]manual.ChunkRecord{embedded, pending})
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Filename != "001.pdf" || e.Page != 12 || e.Section != "第1章" || e.Subsection != "1.1 概要" || e.Query != "電源の入れ方は？" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestLoadResetsBeforeFilling(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	records := []manual.ChunkRecord{
		embeddedRecord(t, "001.pdf", 3, "query a", dirVec(0.8)),
		embeddedRecord(t, "002.pdf", 7, "query b", dirVec(0.6)),
	}

	for i := 0; i < 2; i++ {
		n, err := Load(ctx, store, records)
		if err != nil {
			t.Fatalf("Load #%d: %v", i+1, err)
		}
		if n != 2 {
			t.Fatalf("Load #%d: got %d entries, want 2", i+1, n)
		}
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("got count %d after double load, want 2", count)
	}
}
