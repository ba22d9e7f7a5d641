//go:build integration

package embedding

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real embedding APIs:
//
//	go test -tags=integration ./internal/embedding/
//
// They skip unless the provider's API key is present in the environment.

func TestGeminiEmbedIntegration(t *testing.T) {
	if os.Getenv("GOOGLE_API_KEY") == "" && os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GOOGLE_API_KEY not set; skipping")
	}
	ctx := context.Background()
	g, err := NewGemini(ctx, "gemini-embedding-001")
	require.NoError(t, err)

	texts := []string{"炊飯器の使い方を教えてください", "エアコンのフィルターはどう掃除しますか"}
	vecs, err := g.Embed(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for _, v := range vecs {
		assert.Len(t, v, g.Dimension())
	}

	// the same text embeds to (nearly) the same point
	again, err := g.Embed(ctx, texts[:1])
	require.NoError(t, err)
	assert.Greater(t, cosineSim(vecs[0], again[0]), 0.999)

	// unrelated texts land apart
	assert.Less(t, cosineSim(vecs[0], vecs[1]), 0.95)
}

func TestOpenAIEmbedIntegration(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set; skipping")
	}
	o, err := NewOpenAI("text-embedding-3-small")
	require.NoError(t, err)

	vecs, err := o.Embed(context.Background(), []string{"ご飯の炊き方は？"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], o.Dimension())
}

func cosineSim(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
