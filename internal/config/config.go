// Package config loads the indexer and finder configuration from a YAML
// file, fills in defaults for anything the file leaves out, and applies
// environment overrides for connection settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration shared by both binaries.
type Config struct {
	Corpus    Corpus    `yaml:"corpus"`
	Synthesis Synthesis `yaml:"synthesis"`
	Embedding Embedding `yaml:"embedding"`
	Index     Index     `yaml:"index"`
	Search    Search    `yaml:"search"`
}

// Corpus locates the source PDFs and the directory the dataset artifacts
// are written to.
type Corpus struct {
	Dir     string `yaml:"dir"`
	DataDir string `yaml:"data_dir"`
}

// Synthesis controls query and description generation.
type Synthesis struct {
	QueriesPerSubsection int      `yaml:"queries_per_subsection"`
	Language             string   `yaml:"language"`
	Models               []string `yaml:"models"`
	Workers              int      `yaml:"workers"`
	MaxAttempts          int      `yaml:"max_attempts"`
	RequestsPerMinute    float64  `yaml:"requests_per_minute"`
}

// Embedding controls the embedding provider and batch shape.
type Embedding struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	BatchSize     int    `yaml:"batch_size"`
	Workers       int    `yaml:"workers"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	MaxAttempts   int    `yaml:"max_attempts"`
}

// Index selects and locates the vector store backend.
type Index struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	QdrantHost string `yaml:"qdrant_host"`
	QdrantPort int    `yaml:"qdrant_port"`
}

// Search holds the retrieval knobs.
type Search struct {
	Threshold float64 `yaml:"threshold"`
	TopK      int     `yaml:"top_k"`
	Overfetch int     `yaml:"overfetch"`
}

// Backend and provider names accepted by Validate.
const (
	BackendMemory  = "memory"
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Default returns the configuration used when no file is present. The
// synthesis model list is ordered strongest first; later entries are
// fallbacks.
func Default() Config {
	return Config{
		Corpus: Corpus{
			Dir:     "resources",
			DataDir: "data",
		},
		Synthesis: Synthesis{
			QueriesPerSubsection: 50,
			Language:             "Japanese",
			Models:               []string{"gemini-2.5-pro", "gemini-2.0-flash", "gemini-1.5-flash"},
			Workers:              10,
			MaxAttempts:          3,
			RequestsPerMinute:    60,
		},
		Embedding: Embedding{
			Provider:      ProviderGemini,
			Model:         "gemini-embedding-001",
			BatchSize:     20,
			Workers:       10,
			RatePerMinute: 1500,
			MaxAttempts:   4,
		},
		Index: Index{
			Backend:    BackendMemory,
			Path:       "data/index",
			Collection: "manual_chunks",
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Search: Search{
			Threshold: 0.6,
			TopK:      5,
			Overfetch: 3,
		},
	}
}

// Load reads path, merges it over the defaults, applies environment
// overrides and validates the result. A missing file is not an error:
// the defaults plus environment are used as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv lets deployment environments point at their Qdrant instance
// without editing the file.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.Index.QdrantHost = v
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QDRANT_PORT %q: %w", v, err)
		}
		cfg.Index.QdrantPort = port
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Corpus.Dir == "" {
		return errors.New("corpus.dir must be set")
	}
	if c.Corpus.DataDir == "" {
		return errors.New("corpus.data_dir must be set")
	}
	if len(c.Synthesis.Models) == 0 {
		return errors.New("synthesis.models must list at least one model")
	}
	if c.Synthesis.QueriesPerSubsection < 1 {
		return fmt.Errorf("synthesis.queries_per_subsection must be positive, got %d", c.Synthesis.QueriesPerSubsection)
	}
	switch c.Embedding.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider)
	}
	switch c.Index.Backend {
	case BackendMemory, BackendChromem, BackendQdrant:
	default:
		return fmt.Errorf("unknown index.backend %q", c.Index.Backend)
	}
	if c.Index.Backend != BackendMemory && c.Index.Collection == "" {
		return fmt.Errorf("index.collection must be set for the %s backend", c.Index.Backend)
	}
	if c.Search.Threshold < -1 || c.Search.Threshold > 1 {
		return fmt.Errorf("search.threshold %g outside [-1, 1]", c.Search.Threshold)
	}
	if c.Search.TopK < 1 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.Overfetch < 1 {
		return fmt.Errorf("search.overfetch must be positive, got %d", c.Search.Overfetch)
	}
	return nil
}
