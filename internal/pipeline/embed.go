package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"manual-rag/internal/dataset"
	"manual-rag/internal/embedding"
	"manual-rag/internal/manual"
)

// EmbedResult contains statistics about an embedding run.
type EmbedResult struct {
	TotalRows int
	Pending   int
	Embedded  int
	Failed    int
	Duration  time.Duration
}

// Embed fills in vectors for every dataset row that does not have one yet.
// It is a standalone stage needing only the dataset layout, not the
// extraction or synthesis components. The manifest pins the embedding model
// the dataset was built with; a run with a different model is rejected
// rather than mixed in.
func Embed(ctx context.Context, layout dataset.Layout, batcher *embedding.Batcher, logger *slog.Logger) (*EmbedResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	records, err := dataset.Read(layout.Chunks())
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	result := &EmbedResult{TotalRows: len(records)}

	embedder := batcher.Embedder()
	manifest, err := dataset.ReadManifest(layout.Manifest())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		manifest = dataset.Manifest{
			Model:     embedder.Model(),
			TaskType:  embedder.TaskType(),
			Dimension: embedder.Dimension(),
		}
		if err := dataset.WriteManifest(layout.Manifest(), manifest); err != nil {
			return nil, fmt.Errorf("write manifest: %w", err)
		}
		logger.Info("manifest written", "model", manifest.Model, "dimension", manifest.Dimension)
	case err != nil:
		return nil, fmt.Errorf("read manifest: %w", err)
	default:
		if err := manifest.Verify(embedder.Model(), embedder.TaskType(), embedder.Dimension()); err != nil {
			return nil, err
		}
	}

	var items []embedding.Item
	for i, rec := range records {
		if rec.Embedded() {
			continue
		}
		items = append(items, embedding.Item{Row: i, Text: rec.EmbeddingText()})
	}
	result.Pending = len(items)
	if len(items) == 0 {
		result.Duration = time.Since(start)
		logger.Info("nothing to embed", "rows", len(records))
		return result, nil
	}

	run, runErr := batcher.Run(ctx, items)

	// Persist whatever succeeded, even when the run was cut short.
	if len(run.Vectors) > 0 {
		if err := dataset.AttachEmbeddings(layout.Chunks(), run.Vectors); err != nil {
			return result, fmt.Errorf("attach embeddings: %w", err)
		}
	}
	result.Embedded = run.Succeeded
	result.Failed = run.Failed

	if len(run.FailedBatches) > 0 {
		if err := logFailedBatches(layout, records, run.FailedBatches); err != nil {
			logger.Warn("error log write failed", "error", err)
		}
	}
	result.Duration = time.Since(start)
	if runErr != nil {
		return result, runErr
	}

	logger.Info("embedding complete",
		"embedded", result.Embedded,
		"failed", result.Failed,
		"pending_after", result.Pending-result.Embedded,
		"duration", result.Duration)
	return result, nil
}

// logFailedBatches records one error-log line per document touched by each
// failed batch, so a re-run can be scoped to the documents that lost rows.
func logFailedBatches(layout dataset.Layout, records []manual.ChunkRecord, failed []embedding.FailedBatch) error {
	errlog, err := dataset.OpenErrorLog(layout.Errors())
	if err != nil {
		return err
	}
	defer errlog.Close()

	for _, fb := range failed {
		perDoc := make(map[string]int)
		var order []string
		for _, row := range fb.Rows {
			if row < 0 || row >= len(records) {
				continue
			}
			name := records[row].PDFFilename
			if perDoc[name] == 0 {
				order = append(order, name)
			}
			perDoc[name]++
		}
		for _, name := range order {
			if err := errlog.Record(name, dataset.StageEmbed, fmt.Sprintf("%d records: %v", perDoc[name], fb.Err)); err != nil {
				return err
			}
		}
	}
	return nil
}
