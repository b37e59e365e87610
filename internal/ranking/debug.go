package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kalambet/semnotes/internal/vectorindex"
)

// VectorCache is the read side of the embedding cache.
type VectorCache interface {
	Get(id string) ([]float32, bool)
	Len() int
}

// Candidate is a note considered by Debug.
type Candidate struct {
	ID          string
	Title       string
	Description string
}

// DebugEntry shows how one note scores against the query.
// Similarities are -1 when the note has no cached vector.
type DebugEntry struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	BaseSimilarity  float64 `json:"base_similarity"`
	ContainsKeyword bool    `json:"contains_keyword"`
	FinalSimilarity float64 `json:"final_similarity"`
	InCache         bool    `json:"in_cache"`
	Dimensions      int     `json:"dimensions"`
}

// DebugReport is the outcome of Debug.
type DebugReport struct {
	Query              string       `json:"query"`
	QueryDimensions    int          `json:"query_dimensions"`
	Notes              []DebugEntry `json:"notes"`
	Count              int          `json:"count"`
	CacheSize          int          `json:"cache_size"`
	KeywordBoost       float64      `json:"keyword_boost"`
	AverageSimilarity  float64      `json:"average_similarity"`
	SuggestedThreshold float64      `json:"suggested_threshold"`
}

// Debug scores query against every candidate's cached vector without
// consulting the index. It is meant for tuning thresholds: the suggested
// threshold is the average final similarity of the cached notes, rounded to
// two decimals.
func (e *Engine) Debug(ctx context.Context, query string, boost float64, candidates []Candidate, cache VectorCache) (DebugReport, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return DebugReport{}, fmt.Errorf("embedding query: %w", err)
	}
	qn := vectorindex.Norm(vec)

	report := DebugReport{
		Query:           query,
		QueryDimensions: len(vec),
		Notes:           make([]DebugEntry, 0, len(candidates)),
		CacheSize:       cache.Len(),
		KeywordBoost:    boost,
	}

	var sum float64
	var scored int
	for _, c := range candidates {
		entry := DebugEntry{
			ID:              c.ID,
			Title:           c.Title,
			Description:     c.Description,
			ContainsKeyword: ContainsKeyword(query, vectorindex.Metadata{Title: c.Title, Description: c.Description}),
			BaseSimilarity:  -1,
			FinalSimilarity: -1,
		}
		if v, ok := cache.Get(c.ID); ok {
			entry.InCache = true
			entry.Dimensions = len(v)
			entry.BaseSimilarity = vectorindex.CosineSimilarity(vec, v, qn)
			entry.FinalSimilarity = entry.BaseSimilarity
			if boost > 0 && entry.ContainsKeyword {
				entry.FinalSimilarity = Boost(entry.BaseSimilarity, boost)
			}
			if entry.FinalSimilarity >= 0 {
				sum += entry.FinalSimilarity
				scored++
			}
		}
		report.Notes = append(report.Notes, entry)
	}

	sort.SliceStable(report.Notes, func(i, j int) bool {
		return report.Notes[i].FinalSimilarity > report.Notes[j].FinalSimilarity
	})

	report.Count = len(report.Notes)
	if scored > 0 {
		report.AverageSimilarity = sum / float64(scored)
	}
	report.SuggestedThreshold = math.Round(report.AverageSimilarity*100) / 100
	return report, nil
}
