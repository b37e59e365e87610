// Package embedding turns text into vectors through the configured inference
// backend.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrModelUnavailable wraps any failure of the embedding backend.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrEncoding is returned when the backend answers without a usable vector.
	ErrEncoding = errors.New("embedding produced no vector")
)

// DefaultTimeout bounds a single Embed call when none is configured.
const DefaultTimeout = 30 * time.Second

// batchLimit caps concurrent backend calls in EmbedBatch.
const batchLimit = 4

// Backend is the slice of engine.Engine the gateway needs.
type Backend interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Gateway embeds text with a fixed model under a per-call timeout.
// It never retries.
type Gateway struct {
	backend Backend
	model   string
	timeout time.Duration
}

// NewGateway creates a Gateway. A non-positive timeout selects DefaultTimeout.
func NewGateway(b Backend, model string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{backend: b, model: model, timeout: timeout}
}

// Model returns the embedding model name.
func (g *Gateway) Model() string {
	return g.model
}

// Embed returns the embedding vector for a single text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	vec, err := g.backend.Embed(ctx, g.model, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: model %s", ErrEncoding, g.model)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently, in
// input order. Any single failure fails the whole batch.
// Returns nil (not error) for empty/nil input.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(batchLimit)

	for i, text := range texts {
		eg.Go(func() error {
			vec, err := g.Embed(egCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
