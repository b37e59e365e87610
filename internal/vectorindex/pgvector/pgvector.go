// Package pgvector stores note vectors in PostgreSQL using the pgvector
// extension.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kalambet/semnotes/internal/vectorindex"
)

var _ vectorindex.Index = (*Index)(nil)

// opSpec maps a metric onto pgvector's operator class, ordering operator and
// the expression that yields our distance convention.
type opSpec struct {
	opclass  string
	operator string
	distance string
}

func opsFor(metric string) (opSpec, error) {
	switch metric {
	case vectorindex.MetricCosine:
		return opSpec{"vector_cosine_ops", "<=>", "embedding <=> $1"}, nil
	case vectorindex.MetricL2:
		return opSpec{"vector_l2_ops", "<->", "power(embedding <-> $1, 2)"}, nil
	case vectorindex.MetricIP:
		// <#> is the negative inner product.
		return opSpec{"vector_ip_ops", "<#>", "1 + (embedding <#> $1)"}, nil
	}
	return opSpec{}, fmt.Errorf("pgvector: unsupported metric %q", metric)
}

// Index keeps one row per note in note_vectors. The table is created on the
// first Upsert, when the vector dimension is known.
type Index struct {
	db     *sql.DB
	metric string
	ops    opSpec
	logger *slog.Logger

	mu    sync.Mutex
	ready bool
}

// Open connects to dsn, enables the vector extension and reconciles the
// configured metric with the one recorded by an earlier run.
func Open(ctx context.Context, dsn, metric string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metric == "" {
		metric = vectorindex.MetricCosine
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, vectorindex.Unavailable("pinging postgres", err)
	}

	x, err := open(ctx, db, metric, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return x, nil
}

func open(ctx context.Context, db *sql.DB, metric string, logger *slog.Logger) (*Index, error) {
	for _, stmt := range []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS note_index_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, vectorindex.Unavailable("preparing schema", err)
		}
	}

	var stored string
	err := db.QueryRowContext(ctx, `SELECT value FROM note_index_meta WHERE key = 'metric'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO note_index_meta (key, value) VALUES ('metric', $1)`, metric); err != nil {
			return nil, vectorindex.Unavailable("recording metric", err)
		}
		stored = metric
	case err != nil:
		return nil, vectorindex.Unavailable("reading metric", err)
	case stored != metric:
		logger.Warn("vector index metric differs from configuration; keeping existing metric",
			"existing", stored, "configured", metric)
	}

	ops, err := opsFor(stored)
	if err != nil {
		return nil, err
	}

	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('note_vectors') IS NOT NULL`).Scan(&exists); err != nil {
		return nil, vectorindex.Unavailable("checking note_vectors", err)
	}

	return &Index{db: db, metric: stored, ops: ops, logger: logger, ready: exists}, nil
}

func (x *Index) Metric() string { return x.metric }

func (x *Index) Close() error { return x.db.Close() }

func (x *Index) isReady() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ready
}

func (x *Index) ensureTable(ctx context.Context, dim int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ready {
		return nil
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS note_vectors (
			note_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS note_vectors_embedding_idx
			ON note_vectors USING hnsw (embedding %s)`, x.ops.opclass),
	}
	for _, stmt := range stmts {
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return vectorindex.Unavailable("creating note_vectors", err)
		}
	}
	x.ready = true
	x.logger.Info("created pgvector table", "dim", dim, "opclass", x.ops.opclass)
	return nil
}

func (x *Index) Upsert(ctx context.Context, id string, vector []float32, meta vectorindex.Metadata) error {
	if err := x.ensureTable(ctx, len(vector)); err != nil {
		return err
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO note_vectors (note_id, title, description, embedding, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (note_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at`,
		id, meta.Title, meta.Description, pgvector.NewVector(vector))
	if err != nil {
		return vectorindex.Unavailable("upserting "+id, err)
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, id string) error {
	if !x.isReady() {
		return nil
	}
	if _, err := x.db.ExecContext(ctx, `DELETE FROM note_vectors WHERE note_id = $1`, id); err != nil {
		return vectorindex.Unavailable("deleting "+id, err)
	}
	return nil
}

func (x *Index) Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Hit, error) {
	if k <= 0 || !x.isReady() {
		return nil, nil
	}
	q := fmt.Sprintf(`
		SELECT note_id, title, description, %s AS distance
		FROM note_vectors
		ORDER BY embedding %s $1, note_id
		LIMIT $2`, x.ops.distance, x.ops.operator)

	rows, err := x.db.QueryContext(ctx, q, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, vectorindex.Unavailable("querying vectors", err)
	}
	defer rows.Close()

	var hits []vectorindex.Hit
	for rows.Next() {
		var h vectorindex.Hit
		if err := rows.Scan(&h.ID, &h.Metadata.Title, &h.Metadata.Description, &h.Distance); err != nil {
			return nil, vectorindex.Unavailable("scanning row", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, vectorindex.Unavailable("iterating rows", err)
	}
	return hits, nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	if !x.isReady() {
		return 0, nil
	}
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM note_vectors`).Scan(&n); err != nil {
		return 0, vectorindex.Unavailable("counting", err)
	}
	return n, nil
}

func (x *Index) IDs(ctx context.Context) ([]string, error) {
	if !x.isReady() {
		return nil, nil
	}
	rows, err := x.db.QueryContext(ctx, `SELECT note_id FROM note_vectors`)
	if err != nil {
		return nil, vectorindex.Unavailable("listing ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, vectorindex.Unavailable("scanning id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, vectorindex.Unavailable("iterating ids", err)
	}
	return ids, nil
}
