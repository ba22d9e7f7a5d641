package synthesis

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Client wraps one Gemini API connection. All Generators created from it
// share the same request pacing, so the fallback chain as a whole stays
// under the configured rate.
type Client struct {
	genai   *genai.Client
	limiter *rate.Limiter
}

// NewClient connects to the Gemini API. The key is taken from
// GOOGLE_API_KEY, falling back to GEMINI_API_KEY. A non-positive
// requestsPerMinute disables pacing.
func NewClient(ctx context.Context, requestsPerMinute float64) (*Client, error) {
	key := os.Getenv("GOOGLE_API_KEY")
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, errors.New("GOOGLE_API_KEY or GEMINI_API_KEY environment variable not set")
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerMinute/60), 1)
	}
	return &Client{genai: c, limiter: limiter}, nil
}

// Model returns a Generator backed by the named model.
func (c *Client) Model(name string) *Gemini {
	return &Gemini{client: c, model: name}
}

// Gemini generates queries and descriptions with one Gemini model. The
// response schema is constrained server-side so output parses as JSON.
type Gemini struct {
	client *Client
	model  string
}

func (g *Gemini) Name() string { return g.model }

var queriesSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"queries": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"queries"},
}

var describeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"description": {Type: genai.TypeString},
	},
	Required: []string{"description"},
}

func (g *Gemini) Queries(ctx context.Context, req QueryRequest) ([]string, error) {
	raw, err := g.generate(ctx, buildQueriesPrompt(req), queriesSchema)
	if err != nil {
		return nil, err
	}
	return parseQueriesResponse(raw)
}

func (g *Gemini) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	raw, err := g.generate(ctx, buildDescribePrompt(req), describeSchema)
	if err != nil {
		return "", err
	}
	return parseDescribeResponse(raw)
}

func (g *Gemini) generate(ctx context.Context, prompt string, schema *genai.Schema) ([]byte, error) {
	if g.client.limiter != nil {
		if err := g.client.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := g.client.genai.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	})
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", g.model, err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("model %s returned an empty response", g.model)
	}
	return []byte(text), nil
}
