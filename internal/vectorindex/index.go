// Package vectorindex defines the nearest-neighbour index that stores one
// embedding per note, and the helpers shared by its backends.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrIndexUnavailable wraps transport and storage failures of a backend.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Distance metrics an index can be created with. New indexes always use
// MetricCosine; the others are honoured only when an existing index was
// created with them.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
	MetricIP     = "ip"
)

// Metadata is the note payload stored next to each vector.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Hit is one nearest-neighbour result. Distance is the metric's raw distance
// (for cosine, 1 - cosine similarity); smaller is closer.
type Hit struct {
	ID       string
	Metadata Metadata
	Distance float64
}

// Index is implemented by every vector index backend.
type Index interface {
	// Upsert inserts or overwrites the vector for id. Idempotent.
	Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error

	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Query returns at most k hits ordered by ascending distance.
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)

	// IDs returns the IDs of all stored vectors, in no particular order.
	IDs(ctx context.Context) ([]string, error)

	// Metric reports the distance metric the index actually uses.
	Metric() string

	// Close releases backend resources.
	Close() error
}

// Unavailable wraps err as ErrIndexUnavailable with an operation prefix.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIndexUnavailable, op, err)
}

// timeoutIndex bounds every call of the wrapped index.
type timeoutIndex struct {
	Index
	timeout time.Duration
}

// WithTimeout wraps idx so each Upsert, Delete, Query, Count and IDs runs under its
// own deadline. A non-positive d returns idx unchanged.
func WithTimeout(idx Index, d time.Duration) Index {
	if d <= 0 {
		return idx
	}
	return &timeoutIndex{Index: idx, timeout: d}
}

func (t *timeoutIndex) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Index.Upsert(ctx, id, vector, meta)
}

func (t *timeoutIndex) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Index.Delete(ctx, id)
}

func (t *timeoutIndex) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Index.Query(ctx, vector, k)
}

func (t *timeoutIndex) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Index.Count(ctx)
}

func (t *timeoutIndex) IDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Index.IDs(ctx)
}
