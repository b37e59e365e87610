// Package ranking converts vector-index distances into similarity scores and
// applies the threshold and keyword-boost heuristics.
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kalambet/semnotes/internal/vectorindex"
)

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options controls a single ranking call.
type Options struct {
	// K is the number of nearest neighbours requested from the index.
	K int
	// Threshold drops results whose similarity is below it. A value <= 0
	// disables filtering.
	Threshold float64
	// KeywordBoost is added to the similarity of notes whose search text
	// contains the query verbatim. 0 disables boosting.
	KeywordBoost float64
}

// Result is one ranked note.
type Result struct {
	ID         string               `json:"id"`
	Metadata   vectorindex.Metadata `json:"metadata"`
	Similarity float64              `json:"similarity"`
}

// Engine ranks notes against a free-text query.
type Engine struct {
	embedder Embedder
	index    vectorindex.Index
	logger   *slog.Logger
}

// New creates a ranking Engine.
func New(e Embedder, idx vectorindex.Index, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: e, index: idx, logger: logger}
}

// Rank embeds query, fetches the K nearest notes and scores them.
// Results are sorted by similarity descending; ties keep index order.
// Embedding and index errors are returned unchanged.
func (e *Engine) Rank(ctx context.Context, query string, opts Options) ([]Result, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := e.index.Query(ctx, vec, opts.K)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		sim := Similarity(h.Distance)
		if opts.KeywordBoost > 0 && ContainsKeyword(query, h.Metadata) {
			sim = Boost(sim, opts.KeywordBoost)
		}
		if !Passes(sim, opts.Threshold) {
			continue
		}
		results = append(results, Result{ID: h.ID, Metadata: h.Metadata, Similarity: sim})
	}

	SortDescending(results)

	e.logger.Debug("ranked query", "query", query, "hits", len(hits), "results", len(results),
		"threshold", opts.Threshold, "boost", opts.KeywordBoost)
	return results, nil
}

// Similarity converts a cosine distance into a similarity. The value is not
// clamped: opposite vectors yield a negative similarity.
func Similarity(distance float64) float64 {
	return 1 - distance
}

// ContainsKeyword reports whether query occurs verbatim in the note's search
// text (title + " " + description). Matching is case-sensitive.
func ContainsKeyword(query string, m vectorindex.Metadata) bool {
	return strings.Contains(m.Title+" "+m.Description, query)
}

// Boost adds b to s, capping the result at 1.0.
func Boost(s, b float64) float64 {
	return min(s+b, 1.0)
}

// Passes applies the threshold rule: a non-positive threshold admits everything.
func Passes(similarity, threshold float64) bool {
	return threshold <= 0 || similarity >= threshold
}

// SortDescending orders results by similarity, highest first, keeping the
// relative order of equal scores.
func SortDescending(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}
