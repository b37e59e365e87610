package pgvector

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/kalambet/semnotes/internal/vectorindex"
)

func TestOpsFor(t *testing.T) {
	ops, err := opsFor(vectorindex.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	if ops.opclass != "vector_cosine_ops" || ops.operator != "<=>" {
		t.Errorf("cosine ops = %+v", ops)
	}
	if _, err := opsFor("hamming"); err == nil {
		t.Error("expected error for unsupported metric")
	}
}

// openTestIndex connects to the database named by SEMNOTES_TEST_PG_DSN and
// skips the test when it is unset.
func openTestIndex(t *testing.T) *Index {
	t.Helper()
	dsn := os.Getenv("SEMNOTES_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SEMNOTES_TEST_PG_DSN not set, skipping pgvector test")
	}
	ctx := context.Background()
	idx, err := Open(ctx, dsn, vectorindex.MetricCosine, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		idx.db.Exec(`DROP TABLE IF EXISTS note_vectors`)
		idx.db.Exec(`DROP TABLE IF EXISTS note_index_meta`)
		idx.Close()
	})
	return idx
}

func TestIndex_RoundTrip(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	a, b := uuid.NewString(), uuid.NewString()
	if err := idx.Upsert(ctx, a, []float32{1, 0, 0}, vectorindex.Metadata{Title: "旅行计划", Description: "云南7天"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Upsert(ctx, b, []float32{0, 1, 0}, vectorindex.Metadata{Title: "购物清单"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Overwrite is idempotent.
	if err := idx.Upsert(ctx, a, []float32{1, 0, 0}, vectorindex.Metadata{Title: "旅行计划", Description: "云南7天"}); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != a {
		t.Fatalf("hits = %+v", hits)
	}
	if math.Abs(hits[0].Distance) > 1e-6 || math.Abs(hits[1].Distance-1) > 1e-6 {
		t.Errorf("distances = %v, %v; want 0, 1", hits[0].Distance, hits[1].Distance)
	}

	if err := idx.Delete(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := idx.Delete(ctx, a); err != nil {
		t.Errorf("second Delete = %v", err)
	}
	if n, err := idx.Count(ctx); err != nil || n != 1 {
		t.Errorf("Count = %d, %v; want 1", n, err)
	}
	if ids, err := idx.IDs(ctx); err != nil || len(ids) != 1 || ids[0] != b {
		t.Errorf("IDs = %v, %v; want [%s]", ids, err, b)
	}
}
