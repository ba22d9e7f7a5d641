package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"manual-rag/internal/dataset"
	"manual-rag/internal/embedding"
	"manual-rag/internal/manual"
)

type stubEmbedder struct {
	mu     sync.Mutex
	calls  int
	model  string
	poison string // any text containing this fails its whole batch
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if s.poison != "" && strings.Contains(text, s.poison) {
			return nil, errors.New("invalid input")
		}
		v := make([]float32, manual.EmbeddingDimension)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Model() string {
	if s.model != "" {
		return s.model
	}
	return "stub-embed"
}
func (s *stubEmbedder) TaskType() string { return "SEMANTIC_SIMILARITY" }
func (s *stubEmbedder) Dimension() int   { return manual.EmbeddingDimension }

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ingestFixture builds an 8-row dataset from one document with a single
// sequential worker, so row order is deterministic.
func ingestFixture(t *testing.T, dataDir string) dataset.Layout {
	t.Helper()
	corpusDir := t.TempDir()
	writeCorpus(t, corpusDir, "manual_a.pdf")
	p := testPipeline(t, corpusDir, dataDir, &fakeExtractor{}, &fakeGenerator{}, Config{Target: 2, Workers: 1})
	result, err := p.Ingest(context.Background(), false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.TotalRows != 8 {
		t.Fatalf("fixture rows = %d, want 8", result.TotalRows)
	}
	return dataset.NewLayout(dataDir)
}

func testBatcher(stub *stubEmbedder) *embedding.Batcher {
	return embedding.NewBatcher(stub, nil, embedding.BatcherConfig{
		BatchSize:   4,
		Workers:     1,
		MaxAttempts: 1,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func runEmbed(t *testing.T, layout dataset.Layout, stub *stubEmbedder) (*EmbedResult, error) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Embed(context.Background(), layout, testBatcher(stub), logger)
}

func TestEmbedAttachesVectors(t *testing.T) {
	layout := ingestFixture(t, t.TempDir())
	stub := &stubEmbedder{}

	result, err := runEmbed(t, layout, stub)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if result.TotalRows != 8 || result.Pending != 8 || result.Embedded != 8 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}
	if stub.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2 batches of 4", stub.callCount())
	}

	records, err := dataset.Read(layout.Chunks())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, rec := range records {
		if !rec.Embedded() {
			t.Fatalf("row %d not embedded", i)
		}
	}

	manifest, err := dataset.ReadManifest(layout.Manifest())
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if manifest.Model != "stub-embed" || manifest.Dimension != manual.EmbeddingDimension {
		t.Errorf("manifest = %+v", manifest)
	}
}

func TestEmbedKeepsPartialProgress(t *testing.T) {
	layout := ingestFixture(t, t.TempDir())

	// Rows land in subsection order, so the second batch of four starts at
	// the first 2.1 query. Poisoning it fails that batch only.
	stub := &stubEmbedder{poison: "2.1 手順に関する質問1"}
	result, err := runEmbed(t, layout, stub)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if result.Embedded != 4 || result.Failed != 4 {
		t.Errorf("embedded/failed = %d/%d, want 4/4", result.Embedded, result.Failed)
	}

	records, err := dataset.Read(layout.Chunks())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	embedded := 0
	for _, rec := range records {
		if rec.Embedded() {
			embedded++
			if !strings.HasPrefix(rec.SubsectionName, "1.1") {
				t.Errorf("wrong rows embedded: %s", rec.SubsectionName)
			}
		}
	}
	if embedded != 4 {
		t.Fatalf("persisted embeddings = %d, want 4", embedded)
	}

	entries, err := dataset.ReadErrorLog(layout.Errors())
	if err != nil {
		t.Fatalf("ReadErrorLog: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Stage == dataset.StageEmbed && e.Filename == "001.pdf" && strings.Contains(e.Message, "4 records") {
			found = true
		}
	}
	if !found {
		t.Errorf("no embed failure recorded, log = %+v", entries)
	}

	// A second run picks up only the failed rows.
	retry := &stubEmbedder{}
	second, err := runEmbed(t, layout, retry)
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if second.Pending != 4 || second.Embedded != 4 {
		t.Errorf("second run = %+v", second)
	}
	if retry.callCount() != 1 {
		t.Errorf("second run calls = %d, want 1", retry.callCount())
	}
}

func TestEmbedNothingPending(t *testing.T) {
	layout := ingestFixture(t, t.TempDir())
	if _, err := runEmbed(t, layout, &stubEmbedder{}); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	stub := &stubEmbedder{}
	result, err := runEmbed(t, layout, stub)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if result.Pending != 0 || result.Embedded != 0 {
		t.Errorf("result = %+v", result)
	}
	if stub.callCount() != 0 {
		t.Errorf("provider called %d times with nothing pending", stub.callCount())
	}
}

func TestEmbedRejectsModelSwitch(t *testing.T) {
	layout := ingestFixture(t, t.TempDir())
	if _, err := runEmbed(t, layout, &stubEmbedder{}); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	other := &stubEmbedder{model: "other-embed"}
	_, err := runEmbed(t, layout, other)
	if !errors.Is(err, dataset.ErrModelMismatch) {
		t.Fatalf("got %v, want ErrModelMismatch", err)
	}
	if other.callCount() != 0 {
		t.Errorf("mismatched embedder was called %d times", other.callCount())
	}
}
