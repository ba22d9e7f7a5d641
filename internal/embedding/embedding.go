// Package embedding converts dataset rows into fixed-size vectors. A
// configurable provider client does the actual embedding; the Batcher
// drives it with a worker pool, batch-level retry and a shared rate
// governor.
package embedding

import (
	"context"
	"errors"
	"net"

	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

const (
	// MaxBatchTexts is the largest batch sent in one provider request.
	MaxBatchTexts = 20

	// TaskSemanticSimilarity is the Gemini task type vectors are optimized
	// for. It is pinned in the dataset manifest; queries embedded under a
	// different task type live in a different vector space.
	TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"

	DefaultBatchSize   = 20
	DefaultWorkers     = 10
	DefaultMaxAttempts = 4
)

// Embedder produces one vector per input text, in input order. Model,
// TaskType and Dimension identify the vector space for the manifest.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	TaskType() string
	Dimension() int
}

// transient reports whether an embedding failure is worth retrying.
// Rate limits and server errors pass; quota exhaustion, auth failures and
// malformed requests are permanent.
func transient(err error) bool {
	var gerr genai.APIError
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return oerr.StatusCode == 429 || oerr.StatusCode >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
