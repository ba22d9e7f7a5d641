package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"manual-rag/internal/governor"
	"manual-rag/internal/manual"
)

// Item is one dataset row to embed, identified by its row index in the
// chunk file.
type Item struct {
	Row  int
	Text string
}

// FailedBatch records one batch that exhausted its retries. Its rows stay
// unembedded in the dataset and are picked up by the next run.
type FailedBatch struct {
	Rows []int
	Err  error
}

// Result is the outcome of one Batcher run.
type Result struct {
	Vectors       map[int][]float32 // row index to vector, successes only
	FailedBatches []FailedBatch
	Submitted     int
	Succeeded     int
	Failed        int
	Duration      time.Duration
}

// BatcherConfig tunes the pool. Zero values fall back to the defaults.
type BatcherConfig struct {
	BatchSize   int
	Workers     int
	MaxAttempts int
	Logger      *slog.Logger
}

// Batcher embeds items in fixed-size batches with a worker pool. A batch
// succeeds or fails as a unit: there are no partial batches and no padded
// vectors. Every request attempt takes a grant from the shared governor
// first, so retries count against the rate like first attempts do.
type Batcher struct {
	embedder     Embedder
	gov          *governor.Governor
	batchSize    int
	workers      int
	maxAttempts  int
	retryInitial time.Duration
	logger       *slog.Logger
}

func NewBatcher(embedder Embedder, gov *governor.Governor, cfg BatcherConfig) *Batcher {
	if cfg.BatchSize < 1 || cfg.BatchSize > MaxBatchTexts {
		if cfg.BatchSize > MaxBatchTexts {
			cfg.BatchSize = MaxBatchTexts
		} else {
			cfg.BatchSize = DefaultBatchSize
		}
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Batcher{
		embedder:     embedder,
		gov:          gov,
		batchSize:    cfg.BatchSize,
		workers:      cfg.Workers,
		maxAttempts:  cfg.MaxAttempts,
		retryInitial: 500 * time.Millisecond,
		logger:       cfg.Logger,
	}
}

// Embedder exposes the provider identity for manifest checks.
func (b *Batcher) Embedder() Embedder { return b.embedder }

type batch struct {
	index int
	items []Item
}

type completion struct {
	batch   int
	items   []Item
	vectors [][]float32
	err     error
	at      time.Time
}

// Run embeds all items. The returned error is non-nil only for run-level
// faults such as context cancellation; per-batch failures are reported in
// the result and do not stop other batches.
func (b *Batcher) Run(ctx context.Context, items []Item) (*Result, error) {
	if len(items) == 0 {
		return &Result{Vectors: map[int][]float32{}}, nil
	}

	batches := makeBatches(items, b.batchSize)
	work := make(chan batch, len(batches))
	for _, bt := range batches {
		work <- bt
	}
	close(work)

	b.logger.Info("embedding run starting",
		"records", len(items), "batches", len(batches),
		"batch_size", b.batchSize, "workers", b.workers, "model", b.embedder.Model())

	events := make(chan completion, len(batches))
	var wg sync.WaitGroup
	for w := 0; w < min(b.workers, len(batches)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for bt := range work {
				vecs, err := b.embedBatch(ctx, bt)
				events <- completion{batch: bt.index, items: bt.items, vectors: vecs, err: err, at: time.Now()}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	// Aggregation runs here, on the caller's goroutine: one owner for the
	// counters, the result map and progress reporting.
	result := newTracker(len(items), len(batches), b.logger).run(events)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (b *Batcher) embedBatch(ctx context.Context, bt batch) ([][]float32, error) {
	texts := make([]string, len(bt.items))
	for i, it := range bt.items {
		texts[i] = it.Text
	}

	var out [][]float32
	attempts := 0
	op := func() error {
		attempts++
		if b.gov != nil {
			if err := b.gov.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		vecs, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(vecs) != len(texts) {
			return backoff.Permanent(fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts)))
		}
		for i, v := range vecs {
			if err := manual.ValidateEmbedding(v); err != nil {
				return backoff.Permanent(fmt.Errorf("vector %d: %w", i, err))
			}
		}
		out = vecs
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retryInitial
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(b.maxAttempts-1))); err != nil {
		return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return out, nil
}

func makeBatches(items []Item, size int) []batch {
	var out []batch
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, batch{index: len(out), items: items[start:end]})
	}
	return out
}
