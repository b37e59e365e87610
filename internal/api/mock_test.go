package api

import (
	"context"
	"time"

	"github.com/kalambet/semnotes/internal/notes"
	"github.com/kalambet/semnotes/internal/rag"
	"github.com/kalambet/semnotes/internal/ranking"
	"github.com/kalambet/semnotes/internal/session"
	"github.com/kalambet/semnotes/internal/storage"
)

// mockNotes implements NoteService with overridable function fields. Unset
// fields behave like an empty store.
type mockNotes struct {
	createFn  func(ctx context.Context, title, description string) (storage.Note, error)
	getFn     func(ctx context.Context, id string) (storage.Note, error)
	listFn    func(ctx context.Context) ([]storage.Note, error)
	updateFn  func(ctx context.Context, id, title, description string) (storage.Note, error)
	deleteFn  func(ctx context.Context, id string) error
	searchFn  func(ctx context.Context, p notes.SearchParams) ([]ranking.Result, error)
	debugFn   func(ctx context.Context, query string, boost float64) (ranking.DebugReport, error)
	askFn     func(ctx context.Context, question, sessionID string) (rag.QAResponse, error)
	refreshFn func(ctx context.Context) (int, error)
	seedFn    func(ctx context.Context) ([]storage.Note, error)
	sessionFn func(id string) (session.Session, error)
	cleanupFn func() int
}

var testTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func (m *mockNotes) CreateNote(ctx context.Context, title, description string) (storage.Note, error) {
	if m.createFn != nil {
		return m.createFn(ctx, title, description)
	}
	return storage.Note{ID: "11111111-1111-1111-1111-111111111111", Title: title, Description: description, CreatedAt: testTime, UpdatedAt: testTime}, nil
}

func (m *mockNotes) GetNote(ctx context.Context, id string) (storage.Note, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return storage.Note{}, notes.ErrNotFound
}

func (m *mockNotes) ListNotes(ctx context.Context) ([]storage.Note, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []storage.Note{}, nil
}

func (m *mockNotes) UpdateNote(ctx context.Context, id, title, description string) (storage.Note, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, title, description)
	}
	return storage.Note{ID: id, Title: title, Description: description}, nil
}

func (m *mockNotes) DeleteNote(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockNotes) SearchSemantic(ctx context.Context, p notes.SearchParams) ([]ranking.Result, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, p)
	}
	return []ranking.Result{}, nil
}

func (m *mockNotes) DebugSearch(ctx context.Context, query string, boost float64) (ranking.DebugReport, error) {
	if m.debugFn != nil {
		return m.debugFn(ctx, query, boost)
	}
	return ranking.DebugReport{Query: query, KeywordBoost: boost}, nil
}

func (m *mockNotes) Ask(ctx context.Context, question, sessionID string) (rag.QAResponse, error) {
	if m.askFn != nil {
		return m.askFn(ctx, question, sessionID)
	}
	return rag.QAResponse{Answer: rag.NoResultsAnswer, Sources: []ranking.Result{}, SessionID: "s-1"}, nil
}

func (m *mockNotes) RefreshEmbeddings(ctx context.Context) (int, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return 0, nil
}

func (m *mockNotes) Seed(ctx context.Context) ([]storage.Note, error) {
	if m.seedFn != nil {
		return m.seedFn(ctx)
	}
	return nil, nil
}

func (m *mockNotes) SessionHistory(id string) (session.Session, error) {
	if m.sessionFn != nil {
		return m.sessionFn(id)
	}
	return session.Session{}, session.ErrNotFound
}

func (m *mockNotes) CleanupSessions() int {
	if m.cleanupFn != nil {
		return m.cleanupFn()
	}
	return 0
}
