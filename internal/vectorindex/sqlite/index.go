// Package sqlite stores note vectors in the record-store database and
// answers queries by brute-force scan.
package sqlite

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/semnotes/internal/vectorindex"
)

var _ vectorindex.Index = (*Index)(nil)

const metricKey = "metric"

// Index keeps vectors in the note_vectors table. The table and index_meta
// are created by the storage migrations.
//
// Each query scans every row; this is fine for personal note collections.
// Switch to the qdrant or pgvector backend for large corpora.
type Index struct {
	db     *sql.DB
	metric string
}

// Open binds an Index to db. On first use the metric is recorded in
// index_meta. If index_meta already names another metric, a warning is
// logged and the stored metric stays in effect.
func Open(ctx context.Context, db *sql.DB, metric string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metric == "" {
		metric = vectorindex.MetricCosine
	}

	var stored string
	err := db.QueryRowContext(ctx, "SELECT value FROM index_meta WHERE key = ?", metricKey).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, "INSERT INTO index_meta (key, value) VALUES (?, ?)", metricKey, metric); err != nil {
			return nil, vectorindex.Unavailable("recording metric", err)
		}
		stored = metric
	case err != nil:
		return nil, vectorindex.Unavailable("reading metric", err)
	case stored != metric:
		logger.Warn("vector index metric differs from configuration; keeping existing metric",
			"existing", stored, "configured", metric)
	}
	if !vectorindex.ValidMetric(stored) {
		return nil, fmt.Errorf("vector index has unsupported metric %q", stored)
	}

	return &Index{db: db, metric: stored}, nil
}

func (x *Index) Metric() string { return x.metric }

// Close is a no-op; the database belongs to the record store.
func (x *Index) Close() error { return nil }

func (x *Index) Upsert(ctx context.Context, id string, vector []float32, meta vectorindex.Metadata) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO note_vectors (note_id, title, description, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		id, meta.Title, meta.Description, encodeFloat32s(vector), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return vectorindex.Unavailable("upserting "+id, err)
	}
	return nil
}

func (x *Index) Delete(ctx context.Context, id string) error {
	if _, err := x.db.ExecContext(ctx, "DELETE FROM note_vectors WHERE note_id = ?", id); err != nil {
		return vectorindex.Unavailable("deleting "+id, err)
	}
	return nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM note_vectors").Scan(&n); err != nil {
		return 0, vectorindex.Unavailable("counting", err)
	}
	return n, nil
}

func (x *Index) IDs(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT note_id FROM note_vectors")
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

// idDistance holds only the ID and distance during the scan phase of Query.
// Metadata is fetched only for the top-k winners.
type idDistance struct {
	ID       string
	Distance float64
}

// Query scans all vectors and returns the k nearest.
func (x *Index) Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx, `SELECT note_id, embedding FROM note_vectors`)
	if err != nil {
		return nil, vectorindex.Unavailable("querying vectors", err)
	}
	defer rows.Close()

	queryNorm := vectorindex.Norm(vector)
	h := &maxHeap{}

	// Reused across rows to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, vectorindex.Unavailable("scanning row", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		d := vectorindex.Distance(x.metric, vector, buf, queryNorm)
		if h.Len() < k {
			heap.Push(h, idDistance{ID: id, Distance: d})
		} else if d < (*h)[0].Distance {
			(*h)[0] = idDistance{ID: id, Distance: d}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, vectorindex.Unavailable("iterating rows", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	winners := make([]idDistance, h.Len())
	copy(winners, *h)
	sort.SliceStable(winners, func(i, j int) bool {
		if winners[i].Distance != winners[j].Distance {
			return winners[i].Distance < winners[j].Distance
		}
		return winners[i].ID < winners[j].ID
	})

	meta, err := x.metadataFor(ctx, winners)
	if err != nil {
		return nil, err
	}

	hits := make([]vectorindex.Hit, 0, len(winners))
	for _, w := range winners {
		m, ok := meta[w.ID]
		if !ok {
			// Deleted between the scan and the metadata fetch.
			continue
		}
		hits = append(hits, vectorindex.Hit{ID: w.ID, Metadata: m, Distance: w.Distance})
	}
	return hits, nil
}

func (x *Index) metadataFor(ctx context.Context, winners []idDistance) (map[string]vectorindex.Metadata, error) {
	args := make([]any, len(winners))
	for i, w := range winners {
		args[i] = w.ID
	}
	q := `SELECT note_id, title, description FROM note_vectors WHERE note_id IN (?` +
		strings.Repeat(",?", len(winners)-1) + `)`

	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, vectorindex.Unavailable("fetching metadata", err)
	}
	defer rows.Close()

	out := make(map[string]vectorindex.Metadata, len(winners))
	for rows.Next() {
		var id string
		var m vectorindex.Metadata
		if err := rows.Scan(&id, &m.Title, &m.Description); err != nil {
			return nil, vectorindex.Unavailable("scanning metadata", err)
		}
		out[id] = m
	}
	if err := rows.Err(); err != nil {
		return nil, vectorindex.Unavailable("iterating metadata", err)
	}
	return out, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it when needed.
// A length that is not a multiple of 4 indicates corruption.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// maxHeap keeps the k smallest distances seen so far; the root is the
// current worst candidate.
type maxHeap []idDistance

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(idDistance)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
