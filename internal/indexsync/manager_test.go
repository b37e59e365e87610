package indexsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/semnotes/internal/embedding"
	"github.com/kalambet/semnotes/internal/storage"
	"github.com/kalambet/semnotes/internal/vectorindex"
	"github.com/kalambet/semnotes/internal/vectorindex/sqlite"
)

// hashBackend embeds text into a tiny deterministic vector.
type hashBackend struct {
	mu    sync.Mutex
	calls int
	fail  func(text string) bool
}

func (h *hashBackend) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.fail != nil && h.fail(text) {
		return nil, errors.New("model offline")
	}
	var sum float32
	for _, r := range text {
		sum += float32(r % 97)
	}
	return []float32{1, sum / 1000, float32(len(text))}, nil
}

type failingIndex struct {
	vectorindex.Index
}

func (failingIndex) Upsert(context.Context, string, []float32, vectorindex.Metadata) error {
	return vectorindex.Unavailable("upsert", errors.New("connection refused"))
}

func (failingIndex) Delete(context.Context, string) error {
	return vectorindex.Unavailable("delete", errors.New("connection refused"))
}

type fixture struct {
	store   *storage.Store
	index   vectorindex.Index
	backend *hashBackend
	mgr     *Manager
	logs    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	idx, err := sqlite.Open(context.Background(), s.DB(), vectorindex.MetricCosine, nil)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}

	backend := &hashBackend{}
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	mgr := NewManager(s, embedding.NewGateway(backend, "test", 0), idx, NewCache(), logger)
	return &fixture{store: s, index: idx, backend: backend, mgr: mgr, logs: logs}
}

func (f *fixture) insert(t *testing.T, title, desc string) storage.Note {
	t.Helper()
	n, err := f.store.Insert(context.Background(), title, desc)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return n
}

func TestOnCreateOrUpdate_IndexesAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := f.insert(t, "旅行计划", "云南7天")
	f.mgr.OnCreateOrUpdate(ctx, n)

	if _, ok := f.mgr.Cache().Get(n.ID); !ok {
		t.Error("vector not cached")
	}
	vec, _ := f.backend.Embed(ctx, "", n.SearchText())
	hits, err := f.index.Query(ctx, vec, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != n.ID || hits[0].Metadata.Title != "旅行计划" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestOnCreateOrUpdate_EmbeddingFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.backend.fail = func(string) bool { return true }

	n := f.insert(t, "t", "d")
	f.mgr.OnCreateOrUpdate(context.Background(), n)

	if _, ok := f.mgr.Cache().Get(n.ID); ok {
		t.Error("failed embedding must not be cached")
	}
	if !strings.Contains(f.logs.String(), "embedding failed") {
		t.Errorf("expected warning, logs = %q", f.logs.String())
	}
	// The record itself is untouched.
	if _, err := f.store.FindByID(context.Background(), n.ID); err != nil {
		t.Errorf("note lost after sync failure: %v", err)
	}
}

func TestOnCreateOrUpdate_IndexFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.mgr.index = failingIndex{}

	n := f.insert(t, "t", "d")
	f.mgr.OnCreateOrUpdate(context.Background(), n)

	if _, ok := f.mgr.Cache().Get(n.ID); ok {
		t.Error("vector cached although upsert failed")
	}
	if !strings.Contains(f.logs.String(), "upsert failed") {
		t.Errorf("expected warning, logs = %q", f.logs.String())
	}
}

func TestOnDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := f.insert(t, "购物清单", "洗发水")
	f.mgr.OnCreateOrUpdate(ctx, n)
	f.mgr.OnDelete(ctx, n.ID)

	if _, ok := f.mgr.Cache().Get(n.ID); ok {
		t.Error("cache entry survived delete")
	}
	if c, _ := f.index.Count(ctx); c != 0 {
		t.Errorf("index count = %d, want 0", c)
	}

	// Deleting again is harmless.
	f.mgr.OnDelete(ctx, n.ID)
	if strings.Contains(f.logs.String(), "delete failed") {
		t.Errorf("unexpected warning: %s", f.logs.String())
	}
}

func TestOnDelete_IndexFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.mgr.index = failingIndex{}
	f.mgr.Cache().Set("x", []float32{1})

	f.mgr.OnDelete(context.Background(), "x")
	if _, ok := f.mgr.Cache().Get("x"); ok {
		t.Error("cache entry survived delete")
	}
	if !strings.Contains(f.logs.String(), "delete failed") {
		t.Errorf("expected warning, logs = %q", f.logs.String())
	}
}

func TestRefreshAll_CacheMatchesStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.insert(t, fmt.Sprintf("note %d", i), "body").ID)
	}
	// A stale cache entry for a note that no longer exists.
	f.mgr.Cache().Set("ghost", []float32{1})

	n, err := f.mgr.RefreshAll(ctx)
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if n != 5 {
		t.Errorf("RefreshAll = %d, want 5", n)
	}

	keys := f.mgr.Cache().Keys()
	sort.Strings(keys)
	sort.Strings(ids)
	if strings.Join(keys, ",") != strings.Join(ids, ",") {
		t.Errorf("cache keys = %v, want %v", keys, ids)
	}
	if c, _ := f.index.Count(ctx); c != 5 {
		t.Errorf("index count = %d, want 5", c)
	}

	// Idempotent.
	if n, err := f.mgr.RefreshAll(ctx); err != nil || n != 5 {
		t.Errorf("second RefreshAll = %d, %v", n, err)
	}
	if c, _ := f.index.Count(ctx); c != 5 {
		t.Errorf("index count after second refresh = %d, want 5", c)
	}
}

func TestRefreshAll_PrunesStaleEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	live := f.insert(t, "weekly groceries", "milk, bread")
	if err := f.index.Upsert(ctx, "stray", []float32{1, 0.5, 12}, vectorindex.Metadata{Title: "旅行计划"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, err := f.mgr.RefreshAll(ctx); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	ids, err := f.index.IDs(ctx)
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != live.ID {
		t.Errorf("index ids = %v, want [%s]", ids, live.ID)
	}
	hits, err := f.index.Query(ctx, []float32{1, 0.5, 12}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, h := range hits {
		if h.ID == "stray" {
			t.Error("stray entry still returned by Query")
		}
	}
	if !strings.Contains(f.logs.String(), "pruned=1") {
		t.Errorf("expected pruned count in logs, got %q", f.logs.String())
	}
}

type unlistableIndex struct {
	vectorindex.Index
}

func (unlistableIndex) IDs(context.Context) ([]string, error) {
	return nil, vectorindex.Unavailable("listing ids", errors.New("connection refused"))
}

func TestRefreshAll_PruneFailureLeavesCache(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "note", "")
	f.mgr.index = unlistableIndex{f.index}
	f.mgr.Cache().Set("keep", []float32{1})

	if _, err := f.mgr.RefreshAll(context.Background()); !errors.Is(err, vectorindex.ErrIndexUnavailable) {
		t.Fatalf("err = %v, want ErrIndexUnavailable", err)
	}
	if _, ok := f.mgr.Cache().Get("keep"); !ok || f.mgr.Cache().Len() != 1 {
		t.Error("cache modified by failed refresh")
	}
}

func TestRefreshAll_FailureLeavesCache(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "good", "")
	f.insert(t, "bad", "")
	f.mgr.Cache().Set("keep", []float32{1})
	f.backend.fail = func(text string) bool { return strings.HasPrefix(text, "bad") }

	if _, err := f.mgr.RefreshAll(context.Background()); !errors.Is(err, embedding.ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
	if _, ok := f.mgr.Cache().Get("keep"); !ok || f.mgr.Cache().Len() != 1 {
		t.Error("cache modified by failed refresh")
	}
}

func TestConcurrentUpdatesAndRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	notes := make([]storage.Note, 8)
	for i := range notes {
		notes[i] = f.insert(t, fmt.Sprintf("n%d", i), "")
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, n := range notes {
				f.mgr.OnCreateOrUpdate(ctx, n)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := f.mgr.RefreshAll(ctx); err != nil {
			t.Errorf("RefreshAll: %v", err)
		}
	}()
	wg.Wait()

	if got := f.mgr.Cache().Len(); got != len(notes) {
		t.Errorf("cache size = %d, want %d", got, len(notes))
	}
}
