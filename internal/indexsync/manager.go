// Package indexsync keeps the vector index and the embedding cache in step
// with the record store.
package indexsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/semnotes/internal/storage"
	"github.com/kalambet/semnotes/internal/vectorindex"
)

// NoteLister lists every note in the record store.
type NoteLister interface {
	FindAll(ctx context.Context) ([]storage.Note, error)
}

// Embedder produces vectors for note search texts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Manager propagates note mutations to the vector index and the cache.
//
// Per-note updates are best effort: failures are logged and never undo the
// caller's mutation. Updates to the same note are serialized by a striped
// lock. RefreshAll takes the rebuild lock exclusively, so no per-note update
// interleaves with a rebuild.
type Manager struct {
	notes    NoteLister
	embedder Embedder
	index    vectorindex.Index
	cache    *Cache
	logger   *slog.Logger

	rebuild sync.RWMutex
	stripes [shardCount]sync.Mutex
}

// NewManager creates a Manager. cache is shared with readers such as the
// debug search.
func NewManager(notes NoteLister, e Embedder, idx vectorindex.Index, cache *Cache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{notes: notes, embedder: e, index: idx, cache: cache, logger: logger}
}

// Cache returns the embedding cache the manager maintains.
func (m *Manager) Cache() *Cache {
	return m.cache
}

func (m *Manager) lockNote(id string) func() {
	m.rebuild.RLock()
	s := &m.stripes[shardIndex(id)]
	s.Lock()
	return func() {
		s.Unlock()
		m.rebuild.RUnlock()
	}
}

// OnCreateOrUpdate embeds the note's search text, upserts it into the index
// and caches the vector. Failures are logged at Warn and otherwise ignored.
func (m *Manager) OnCreateOrUpdate(ctx context.Context, n storage.Note) {
	unlock := m.lockNote(n.ID)
	defer unlock()

	vec, err := m.embedder.Embed(ctx, n.SearchText())
	if err != nil {
		m.logger.Warn("index sync: embedding failed", "note_id", n.ID, "error", err)
		return
	}
	if err := m.index.Upsert(ctx, n.ID, vec, vectorindex.Metadata{Title: n.Title, Description: n.Description}); err != nil {
		m.logger.Warn("index sync: upsert failed", "note_id", n.ID, "error", err)
		return
	}
	m.cache.Set(n.ID, vec)
	m.logger.Debug("index sync: upserted", "note_id", n.ID, "dim", len(vec))
}

// OnDelete removes the note from the index and the cache. Failures are
// logged at Warn and otherwise ignored.
func (m *Manager) OnDelete(ctx context.Context, id string) {
	unlock := m.lockNote(id)
	defer unlock()

	m.cache.Delete(id)
	if err := m.index.Delete(ctx, id); err != nil {
		m.logger.Warn("index sync: delete failed", "note_id", id, "error", err)
		return
	}
	m.logger.Debug("index sync: deleted", "note_id", id)
}

// RefreshAll re-embeds every note, upserts each into the index, removes index
// entries that no longer have a note and replaces the cache wholesale. It
// returns the number of notes processed. On error the cache is left
// untouched; index entries written before the failure remain, which is
// harmless because upserts are idempotent.
func (m *Manager) RefreshAll(ctx context.Context) (int, error) {
	m.rebuild.Lock()
	defer m.rebuild.Unlock()

	notes, err := m.notes.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing notes: %w", err)
	}

	texts := make([]string, len(notes))
	for i, n := range notes {
		texts[i] = n.SearchText()
	}
	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding notes: %w", err)
	}

	entries := make(map[string][]float32, len(notes))
	for i, n := range notes {
		meta := vectorindex.Metadata{Title: n.Title, Description: n.Description}
		if err := m.index.Upsert(ctx, n.ID, vecs[i], meta); err != nil {
			return 0, fmt.Errorf("upserting note %s: %w", n.ID, err)
		}
		entries[n.ID] = vecs[i]
	}

	pruned, err := m.prune(ctx, entries)
	if err != nil {
		return 0, err
	}

	m.cache.Replace(entries)
	m.logger.Info("index refreshed", "notes", len(notes), "pruned", pruned)
	return len(notes), nil
}

// prune deletes every index entry whose ID is not in live.
func (m *Manager) prune(ctx context.Context, live map[string][]float32) (int, error) {
	ids, err := m.index.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing index entries: %w", err)
	}
	pruned := 0
	for _, id := range ids {
		if _, ok := live[id]; ok {
			continue
		}
		if err := m.index.Delete(ctx, id); err != nil {
			return pruned, fmt.Errorf("deleting stale entry %s: %w", id, err)
		}
		m.logger.Debug("index sync: pruned stale entry", "note_id", id)
		pruned++
	}
	return pruned, nil
}
