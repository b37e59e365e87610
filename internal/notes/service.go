// Package notes is the upward API of semnotes: note CRUD with index
// propagation, semantic search, and question answering.
package notes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/semnotes/internal/indexsync"
	"github.com/kalambet/semnotes/internal/rag"
	"github.com/kalambet/semnotes/internal/ranking"
	"github.com/kalambet/semnotes/internal/session"
	"github.com/kalambet/semnotes/internal/storage"
)

var (
	// ErrInvalidIdentifier is returned for IDs that are not UUIDs.
	ErrInvalidIdentifier = errors.New("invalid note identifier")
	// ErrNotFound is returned when a note does not exist.
	ErrNotFound = fmt.Errorf("note %w", storage.ErrNotFound)
)

// Search defaults used when the caller leaves a parameter unset.
const (
	DefaultSearchLimit     = 5
	DefaultSearchThreshold = 0.3
	DefaultKeywordBoost    = 0.2
)

// SearchParams controls SearchSemantic.
type SearchParams struct {
	Query        string
	Limit        int
	Threshold    float64
	KeywordBoost float64
}

// DefaultSearchParams returns params for query with the default limit,
// threshold and keyword boost.
func DefaultSearchParams(query string) SearchParams {
	return SearchParams{
		Query:        query,
		Limit:        DefaultSearchLimit,
		Threshold:    DefaultSearchThreshold,
		KeywordBoost: DefaultKeywordBoost,
	}
}

// Service wires the record store to the index, the ranking engine and the
// RAG orchestrator.
type Service struct {
	store    *storage.Store
	sync     *indexsync.Manager
	ranker   *ranking.Engine
	rag      *rag.Orchestrator
	sessions *session.Store
	logger   *slog.Logger
}

// Deps holds the components a Service needs.
type Deps struct {
	Store    *storage.Store
	Sync     *indexsync.Manager
	Ranker   *ranking.Engine
	RAG      *rag.Orchestrator
	Sessions *session.Store
	Logger   *slog.Logger
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    d.Store,
		sync:     d.Sync,
		ranker:   d.Ranker,
		rag:      d.RAG,
		sessions: d.Sessions,
		logger:   logger,
	}
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

func notFound(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// CreateNote stores a note and indexes it. Indexing failures are logged by
// the sync manager and do not fail the call.
func (s *Service) CreateNote(ctx context.Context, title, description string) (storage.Note, error) {
	n, err := s.store.Insert(ctx, title, description)
	if err != nil {
		return storage.Note{}, err
	}
	s.sync.OnCreateOrUpdate(ctx, n)
	s.logger.Debug("note created", "note_id", n.ID)
	return n, nil
}

// GetNote returns a note by ID.
func (s *Service) GetNote(ctx context.Context, id string) (storage.Note, error) {
	if err := validateID(id); err != nil {
		return storage.Note{}, err
	}
	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		return storage.Note{}, notFound(id, err)
	}
	return n, nil
}

// ListNotes returns every note ordered by creation time.
func (s *Service) ListNotes(ctx context.Context) ([]storage.Note, error) {
	notes, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []storage.Note{}
	}
	return notes, nil
}

// UpdateNote replaces a note's title and description and reindexes it.
func (s *Service) UpdateNote(ctx context.Context, id, title, description string) (storage.Note, error) {
	if err := validateID(id); err != nil {
		return storage.Note{}, err
	}
	n, err := s.store.UpdateByID(ctx, id, title, description)
	if err != nil {
		return storage.Note{}, notFound(id, err)
	}
	s.sync.OnCreateOrUpdate(ctx, n)
	return n, nil
}

// DeleteNote removes a note and its index entry. A missing note yields
// ErrNotFound; its index entry, if one was left behind by an earlier failed
// delete, is still removed.
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	deleted, err := s.store.DeleteByID(ctx, id)
	if err != nil {
		return err
	}
	s.sync.OnDelete(ctx, id)
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.logger.Debug("note deleted", "note_id", id)
	return nil
}

// SearchSemantic ranks notes against p.Query. A non-positive limit selects
// DefaultSearchLimit. The result is never nil.
func (s *Service) SearchSemantic(ctx context.Context, p SearchParams) ([]ranking.Result, error) {
	if p.Limit <= 0 {
		p.Limit = DefaultSearchLimit
	}
	results, err := s.ranker.Rank(ctx, p.Query, ranking.Options{
		K:            p.Limit,
		Threshold:    p.Threshold,
		KeywordBoost: p.KeywordBoost,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if results == nil {
		results = []ranking.Result{}
	}
	return results, nil
}

// DebugSearch rebuilds the embedding cache and scores every note against
// query from it.
func (s *Service) DebugSearch(ctx context.Context, query string, boost float64) (ranking.DebugReport, error) {
	if _, err := s.sync.RefreshAll(ctx); err != nil {
		return ranking.DebugReport{}, fmt.Errorf("refreshing embeddings: %w", err)
	}
	all, err := s.store.FindAll(ctx)
	if err != nil {
		return ranking.DebugReport{}, err
	}
	candidates := make([]ranking.Candidate, len(all))
	for i, n := range all {
		candidates[i] = ranking.Candidate{ID: n.ID, Title: n.Title, Description: n.Description}
	}
	return s.ranker.Debug(ctx, query, boost, candidates, s.sync.Cache())
}

// Ask answers question from the notes, continuing sessionID when it is live.
func (s *Service) Ask(ctx context.Context, question, sessionID string) (rag.QAResponse, error) {
	return s.rag.Ask(ctx, question, sessionID)
}

// RefreshEmbeddings re-embeds every note and returns how many were indexed.
func (s *Service) RefreshEmbeddings(ctx context.Context) (int, error) {
	return s.sync.RefreshAll(ctx)
}

// SessionHistory returns a live session.
func (s *Service) SessionHistory(id string) (session.Session, error) {
	return s.sessions.Get(id)
}

// CleanupSessions purges expired sessions and returns how many were removed.
func (s *Service) CleanupSessions() int {
	n := s.sessions.Sweep()
	if n > 0 {
		s.logger.Info("expired sessions purged", "count", n)
	}
	return n
}
