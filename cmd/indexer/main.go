// Package main provides the indexing CLI for the manual retrieval dataset.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"manual-rag/internal/config"
	"manual-rag/internal/corpus"
	"manual-rag/internal/dataset"
	"manual-rag/internal/embedding"
	"manual-rag/internal/governor"
	"manual-rag/internal/index"
	"manual-rag/internal/pipeline"
	"manual-rag/internal/section"
	"manual-rag/internal/synthesis"
)

var (
	configPath  string
	verbose     bool
	replaceDocs bool
)

var rootCmd = &cobra.Command{
	Use:   "manual-indexer",
	Short: "Manual corpus indexing tool",
	Long:  "CLI tool for building the PDF manual retrieval dataset: section extraction, query synthesis, embeddings and index loading",
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Extract sections and synthesize queries for corpus documents",
	Long: `Scans the corpus directory and builds dataset rows for each document.

This command:
1. Numbers new PDFs and updates the filename mapping
2. Extracts the section/subsection structure of each document
3. Synthesizes search queries per subsection through the model fallback chain
4. Appends one row per (subsection, query) to the chunk dataset

Documents already in the dataset are skipped unless --replace is given,
in which case their rows are removed and rebuilt.

Environment variables:
  GOOGLE_API_KEY Gemini API key for query synthesis (required)
  GEMINI_API_KEY accepted when GOOGLE_API_KEY is unset`,
	RunE: runIngest,
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Compute embeddings for pending dataset rows",
	Long: `Embeds every dataset row that does not have a vector yet.

This command:
1. Verifies the dataset manifest against the configured embedding model
2. Groups pending rows into batches and embeds them with a worker pool
3. Writes vectors back into the dataset; failed batches stay pending

Environment variables:
  GOOGLE_API_KEY Gemini API key (required for the gemini provider)
  OPENAI_API_KEY OpenAI API key (required for the openai provider)`,
	RunE: runEmbed,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dataset and mapping statistics",
	RunE:  runStatus,
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the embedded dataset into the configured vector store",
	Long: `Rebuilds the vector store collection from the embedded dataset rows.

Environment variables:
  QDRANT_HOST Qdrant hostname for the qdrant backend (default: localhost)
  QDRANT_PORT Qdrant gRPC port (default: 6334)`,
	RunE: runLoad,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	ingestCmd.Flags().BoolVar(&replaceDocs, "replace", false, "re-ingest documents already in the dataset")
	rootCmd.AddCommand(ingestCmd, embedCmd, statusCmd, loadCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	fmt.Println("Starting ingest...")
	fmt.Println()

	// 1. Build the model fallback chain
	client, err := synthesis.NewClient(ctx, cfg.Synthesis.RequestsPerMinute)
	if err != nil {
		return fmt.Errorf("Failed to create synthesis client: %w", err)
	}
	gens := make([]synthesis.Generator, 0, len(cfg.Synthesis.Models))
	for _, model := range cfg.Synthesis.Models {
		gens = append(gens, client.Model(model))
	}
	chain, err := synthesis.NewChain(logger, cfg.Synthesis.MaxAttempts, gens...)
	if err != nil {
		return fmt.Errorf("Failed to build model chain: %w", err)
	}
	fmt.Printf("Models: %s\n", chain.Name())
	fmt.Printf("Corpus: %s\n", cfg.Corpus.Dir)

	// 2. Run the pipeline
	p := pipeline.New(dataset.NewLayout(cfg.Corpus.DataDir), section.NewExtractor(), chain, pipeline.Config{
		CorpusDir: cfg.Corpus.Dir,
		Target:    cfg.Synthesis.QueriesPerSubsection,
		Language:  cfg.Synthesis.Language,
		Workers:   cfg.Synthesis.Workers,
	}, logger)

	result, err := p.Ingest(ctx, replaceDocs)
	if err != nil {
		return fmt.Errorf("Ingest failed: %w", err)
	}

	// 3. Print results
	fmt.Println()
	fmt.Println("Ingest complete!")
	fmt.Printf("  Documents: %d/%d (%d skipped)\n", result.Indexed, result.TotalDocuments, result.Skipped)
	fmt.Printf("  Rows: %d\n", result.TotalRows)
	if result.Shortfalls > 0 {
		fmt.Printf("  Shortfalls: %d subsections below target\n", result.Shortfalls)
	}
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Second))

	if len(result.FailedDocs) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Printf("  - %s: %s\n", failed.Filename, failed.Reason)
		}
	}
	return nil
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	fmt.Println("Starting embedding run...")
	fmt.Println()

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("Failed to create embedding client: %w", err)
	}
	fmt.Printf("Model: %s (%s)\n", embedder.Model(), cfg.Embedding.Provider)

	gov := governor.New(cfg.Embedding.RatePerMinute)
	batcher := embedding.NewBatcher(embedder, gov, embedding.BatcherConfig{
		BatchSize:   cfg.Embedding.BatchSize,
		Workers:     cfg.Embedding.Workers,
		MaxAttempts: cfg.Embedding.MaxAttempts,
		Logger:      logger,
	})

	result, err := pipeline.Embed(ctx, dataset.NewLayout(cfg.Corpus.DataDir), batcher, logger)
	if err != nil {
		return fmt.Errorf("Embedding failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Embedding complete!")
	fmt.Printf("  Rows: %d total, %d were pending\n", result.TotalRows, result.Pending)
	fmt.Printf("  Embedded: %d\n", result.Embedded)
	if result.Failed > 0 {
		fmt.Printf("  Failed: %d (still pending, re-run to retry)\n", result.Failed)
	}
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Second))
	return nil
}

func buildEmbedder(ctx context.Context, cfg config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		return embedding.NewOpenAI(cfg.Embedding.Model)
	default:
		return embedding.NewGemini(ctx, cfg.Embedding.Model)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	layout := dataset.NewLayout(cfg.Corpus.DataDir)

	records, err := dataset.Read(layout.Chunks())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("Failed to read dataset: %w", err)
	}
	embedded := 0
	docs := make(map[string]bool)
	for _, rec := range records {
		docs[rec.PDFFilename] = true
		if rec.Embedded() {
			embedded++
		}
	}

	fmt.Printf("Dataset: %s\n", layout.Chunks())
	fmt.Printf("  Documents: %d\n", len(docs))
	fmt.Printf("  Rows: %d (%d embedded, %d pending)\n", len(records), embedded, len(records)-embedded)

	manifest, err := dataset.ReadManifest(layout.Manifest())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		fmt.Println("  Model: none (no embeddings yet)")
	case err != nil:
		return fmt.Errorf("Failed to read manifest: %w", err)
	default:
		fmt.Printf("  Model: %s (%s, %d dims)\n", manifest.Model, manifest.TaskType, manifest.Dimension)
	}

	mapping, err := corpus.LoadMapping(layout.Mapping())
	if err != nil {
		return fmt.Errorf("Failed to read mapping: %w", err)
	}
	fmt.Printf("  Mapping: %d documents\n", len(mapping))
	if verbose {
		names := make([]string, 0, len(mapping))
		for name := range mapping {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("    %s -> %s\n", name, mapping[name])
		}
	}

	entries, err := dataset.ReadErrorLog(layout.Errors())
	if err != nil {
		return fmt.Errorf("Failed to read error log: %w", err)
	}
	if len(entries) > 0 {
		fmt.Printf("  Errors logged: %d (see %s)\n", len(entries), layout.Errors())
	}
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	if cfg.Index.Backend == config.BackendMemory {
		return errors.New("the memory backend lives inside the finder process; load applies to chromem and qdrant")
	}

	layout := dataset.NewLayout(cfg.Corpus.DataDir)
	records, err := dataset.Read(layout.Chunks())
	if err != nil {
		return fmt.Errorf("Failed to read dataset: %w", err)
	}

	fmt.Printf("Connecting to %s index...\n", cfg.Index.Backend)
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("Failed to open index: %w", err)
	}
	defer store.Close()

	start := time.Now()
	n, err := index.Load(ctx, store, records)
	if err != nil {
		return fmt.Errorf("Load failed: %w", err)
	}
	fmt.Printf("Indexed %d entries into %q in %s\n", n, cfg.Index.Collection, time.Since(start).Round(time.Millisecond))
	if n < len(records) {
		fmt.Printf("Skipped %d rows without embeddings (run embed first)\n", len(records)-n)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (index.Store, error) {
	switch cfg.Index.Backend {
	case config.BackendQdrant:
		return index.NewQdrant(ctx, cfg.Index.QdrantHost, cfg.Index.QdrantPort, cfg.Index.Collection)
	case config.BackendChromem:
		return index.NewChromem(cfg.Index.Path, cfg.Index.Collection)
	default:
		return index.NewMemory(), nil
	}
}
