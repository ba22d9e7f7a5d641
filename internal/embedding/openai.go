package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"manual-rag/internal/manual"
)

// OpenAI embeds text with the OpenAI embeddings API, requesting vectors at
// the dataset's fixed dimension.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI reads OPENAI_API_KEY and builds a client for the given model.
func NewOpenAI(model string) (*OpenAI, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	client := openai.NewClient(option.WithAPIKey(key))
	return &OpenAI{client: &client, model: model}, nil
}

func (o *OpenAI) Model() string { return o.model }

// TaskType is empty: task types are a Gemini concept. The manifest still
// records the empty string so provider switches are caught.
func (o *OpenAI) TaskType() string { return "" }

func (o *OpenAI) Dimension() int { return manual.EmbeddingDimension }

// Embed returns one vector per text, in input order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchTexts {
		return nil, fmt.Errorf("batch of %d texts exceeds provider limit of %d", len(texts), MaxBatchTexts)
	}

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: openai.Int(int64(manual.EmbeddingDimension)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("openai returned embedding for index %d outside batch", d.Index)
		}
		vec := toFloat32(d.Embedding)
		if err := manual.ValidateEmbedding(vec); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", d.Index, err)
		}
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai returned no embedding for index %d", i)
		}
	}
	return out, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
