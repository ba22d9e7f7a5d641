// Package main provides the lookup CLI that answers questions with manual
// display commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"manual-rag/internal/config"
	"manual-rag/internal/corpus"
	"manual-rag/internal/dataset"
	"manual-rag/internal/embedding"
	"manual-rag/internal/emit"
	"manual-rag/internal/index"
)

var (
	configPath  string
	verbose     bool
	interactive bool
	batchOut    bool
	reload      bool
)

var rootCmd = &cobra.Command{
	Use:   "manual-finder [query]",
	Short: "Find the manual page that answers a question",
	Long: `Embeds a natural-language question, searches the chunk index and prints
the show_document command for the best-matching manuals.

The command JSON goes to stdout; progress and diagnostics go to stderr, so
the output can be piped straight into the agent transport.

Environment variables:
  GOOGLE_API_KEY Gemini API key (required for the gemini provider)
  OPENAI_API_KEY OpenAI API key (required for the openai provider)
  QDRANT_HOST    Qdrant hostname for the qdrant backend (default: localhost)
  QDRANT_PORT    Qdrant gRPC port (default: 6334)`,
	Args: cobra.ArbitraryArgs,
	RunE: runFind,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read questions from stdin in a loop")
	rootCmd.Flags().BoolVar(&batchOut, "batch", false, "emit the ranked batch command instead of the single best match")
	rootCmd.Flags().BoolVar(&reload, "reload", false, "rebuild the vector store from the dataset before searching")
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

func runFind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.TrimSpace(strings.Join(args, " "))
	if !interactive && query == "" {
		return errors.New("a query is required, or pass -i for interactive mode")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	layout := dataset.NewLayout(cfg.Corpus.DataDir)

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("Failed to create embedding client: %w", err)
	}

	// The index is only meaningful for vectors from the model it was built
	// with, so check the dataset manifest before answering anything.
	manifest, err := dataset.ReadManifest(layout.Manifest())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("dataset manifest missing, embedding model cannot be verified")
	case err != nil:
		return fmt.Errorf("Failed to read manifest: %w", err)
	default:
		if err := manifest.Verify(embedder.Model(), embedder.TaskType(), embedder.Dimension()); err != nil {
			return fmt.Errorf("Embedding model mismatch: %w", err)
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("Failed to open index: %w", err)
	}
	defer store.Close()

	count, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("Failed to inspect index: %w", err)
	}
	if reload || count == 0 {
		records, err := dataset.Read(layout.Chunks())
		if err != nil {
			return fmt.Errorf("Failed to read dataset: %w", err)
		}
		n, err := index.Load(ctx, store, records)
		if err != nil {
			return fmt.Errorf("Failed to load index: %w", err)
		}
		if n == 0 {
			return errors.New("the dataset has no embedded rows yet, run manual-indexer embed first")
		}
		fmt.Fprintf(os.Stderr, "Loaded %d entries into the %s index\n", n, cfg.Index.Backend)
	}

	searcher := index.NewSearcher(store, embedder,
		index.WithThreshold(cfg.Search.Threshold),
		index.WithLimit(cfg.Search.TopK),
		index.WithOverfetch(cfg.Search.Overfetch),
		index.WithSearchLogger(logger))

	if interactive {
		mapping, err := corpus.LoadMapping(layout.Mapping())
		if err != nil {
			return fmt.Errorf("Failed to read mapping: %w", err)
		}
		return repl(ctx, searcher, mapping)
	}

	results, err := searcher.Search(ctx, query)
	if errors.Is(err, index.ErrNoRelevantDocument) {
		fmt.Fprintln(os.Stderr, "No relevant document found.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("Search failed: %w", err)
	}

	emitter := emit.NewEmitter(os.Stdout)
	if batchOut {
		return emitter.EmitBatch(results)
	}
	return emitter.Emit(results[0])
}

// repl answers questions until EOF or exit. Ranked matches go to stdout in
// readable form followed by the command JSON, the same shape the one-shot
// mode emits.
func repl(ctx context.Context, searcher *index.Searcher, mapping corpus.Mapping) error {
	emitter := emit.NewEmitter(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Ask about the manuals. Type exit to quit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		results, err := searcher.Search(ctx, line)
		if errors.Is(err, index.ErrNoRelevantDocument) {
			fmt.Println("No relevant document found.")
			continue
		}
		if err != nil {
			fmt.Printf("Search failed: %v\n", err)
			continue
		}

		for i, r := range results {
			name := r.Filename
			if original, ok := mapping[r.Filename]; ok && original != r.Filename {
				name = fmt.Sprintf("%s (%s)", r.Filename, original)
			}
			fmt.Printf("%d. %s p.%d score=%.3f %s / %s\n", i+1, name, r.Page, r.Score, r.SectionName, r.SubsectionName)
		}
		if batchOut {
			err = emitter.EmitBatch(results)
		} else {
			err = emitter.Emit(results[0])
		}
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

func buildEmbedder(ctx context.Context, cfg config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		return embedding.NewOpenAI(cfg.Embedding.Model)
	default:
		return embedding.NewGemini(ctx, cfg.Embedding.Model)
	}
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
