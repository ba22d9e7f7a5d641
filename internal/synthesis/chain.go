package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultAttempts is how many times each model is tried before the chain
// falls back to the next one.
const DefaultAttempts = 3

// Chain is a Generator that tries a ranked list of models. Each model gets
// a bounded number of attempts with exponential backoff; only when a model
// exhausts its attempts does the next one get the request.
type Chain struct {
	gens     []Generator
	attempts int
	initial  time.Duration
	logger   *slog.Logger
}

// NewChain builds a fallback chain over gens, strongest model first.
func NewChain(logger *slog.Logger, attempts int, gens ...Generator) (*Chain, error) {
	if len(gens) == 0 {
		return nil, errors.New("fallback chain needs at least one generator")
	}
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{gens: gens, attempts: attempts, initial: 500 * time.Millisecond, logger: logger}, nil
}

func (c *Chain) Name() string {
	names := make([]string, len(c.gens))
	for i, g := range c.gens {
		names[i] = g.Name()
	}
	return strings.Join(names, ",")
}

func (c *Chain) Queries(ctx context.Context, req QueryRequest) ([]string, error) {
	var out []string
	err := c.eachModel(ctx, "queries", func(g Generator) error {
		qs, err := g.Queries(ctx, req)
		if err != nil {
			return err
		}
		out = qs
		return nil
	})
	return out, err
}

func (c *Chain) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	var out string
	err := c.eachModel(ctx, "describe", func(g Generator) error {
		desc, err := g.Describe(ctx, req)
		if err != nil {
			return err
		}
		out = desc
		return nil
	})
	return out, err
}

func (c *Chain) eachModel(ctx context.Context, op string, call func(Generator) error) error {
	var errs []error
	for i, g := range c.gens {
		err := c.withRetry(ctx, func() error { return call(g) })
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(c.gens) {
			c.logger.Warn("model exhausted, falling back",
				"op", op, "model", g.Name(), "next", c.gens[i+1].Name(), "error", err)
		}
	}
	return fmt.Errorf("all models failed: %w", errors.Join(errs...))
}

func (c *Chain) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(c.attempts-1)))
}
