package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"

	"manual-rag/internal/manual"
)

// Gemini embeds text with the Gemini embedding API at the dataset's fixed
// dimension.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini connects to the Gemini API using GOOGLE_API_KEY, falling back
// to GEMINI_API_KEY.
func NewGemini(ctx context.Context, model string) (*Gemini, error) {
	key := os.Getenv("GOOGLE_API_KEY")
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, errors.New("GOOGLE_API_KEY or GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Model() string    { return g.model }
func (g *Gemini) TaskType() string { return TaskSemanticSimilarity }
func (g *Gemini) Dimension() int   { return manual.EmbeddingDimension }

// Embed returns one vector per text, in input order.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchTexts {
		return nil, fmt.Errorf("batch of %d texts exceeds provider limit of %d", len(texts), MaxBatchTexts)
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		TaskType:             TaskSemanticSimilarity,
		OutputDimensionality: genai.Ptr(int32(manual.EmbeddingDimension)),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini returned an empty embedding at index %d", i)
		}
		if err := manual.ValidateEmbedding(e.Values); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
		out[i] = e.Values
	}
	return out, nil
}
