package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/semnotes/internal/ingest"
	"github.com/kalambet/semnotes/internal/notes"
	"github.com/kalambet/semnotes/internal/rag"
	"github.com/kalambet/semnotes/internal/ranking"
	"github.com/kalambet/semnotes/internal/session"
	"github.com/kalambet/semnotes/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxImportBodySize  = 10 << 20 // 10MB
	maxSearchLimit     = 100
)

// NoteService is the upward API the HTTP and MCP layers call.
type NoteService interface {
	CreateNote(ctx context.Context, title, description string) (storage.Note, error)
	GetNote(ctx context.Context, id string) (storage.Note, error)
	ListNotes(ctx context.Context) ([]storage.Note, error)
	UpdateNote(ctx context.Context, id, title, description string) (storage.Note, error)
	DeleteNote(ctx context.Context, id string) error
	SearchSemantic(ctx context.Context, p notes.SearchParams) ([]ranking.Result, error)
	DebugSearch(ctx context.Context, query string, boost float64) (ranking.DebugReport, error)
	Ask(ctx context.Context, question, sessionID string) (rag.QAResponse, error)
	RefreshEmbeddings(ctx context.Context) (int, error)
	Seed(ctx context.Context) ([]storage.Note, error)
	SessionHistory(id string) (session.Session, error)
	CleanupSessions() int
}

// Importer turns import requests into note content.
type Importer interface {
	Extract(ctx context.Context, req ingest.Request) (ingest.Document, error)
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Notes    NoteService
	Importer Importer // optional; if nil, /notes/import is not served
	Token    string   // optional bearer token for /api/v1
	// SearchDefaults fills search parameters the client leaves out.
	SearchDefaults notes.SearchParams
}

type noteRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.SearchDefaults.Limit <= 0 {
		deps.SearchDefaults = notes.DefaultSearchParams("")
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/notes", func(r chi.Router) {
			r.Post("/", handleCreateNote(deps))
			r.Get("/", handleListNotes(deps))

			search := handleSearch(deps)
			r.Get("/search", search)
			r.Get("/search/", search)
			debug := handleDebugSearch(deps)
			r.Get("/search/debug", debug)
			r.Get("/search/debug/", debug)
			ask := handleAsk(deps)
			r.Post("/ask", ask)
			r.Post("/ask/", ask)
			r.Post("/refresh-embeddings", handleRefresh(deps))
			r.Post("/seed", handleSeed(deps))
			if deps.Importer != nil {
				r.Post("/import", handleImport(deps))
			}

			r.Get("/{id}", handleGetNote(deps))
			r.Put("/{id}", handleUpdateNote(deps))
			r.Delete("/{id}", handleDeleteNote(deps))
		})

		r.Post("/sessions/cleanup", handleCleanupSessions(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleCreateNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req noteRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		var title, desc string
		if req.Title != nil {
			title = *req.Title
		}
		if req.Description != nil {
			desc = *req.Description
		}
		if strings.TrimSpace(title) == "" && strings.TrimSpace(desc) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title or description is required")
			return
		}

		n, err := deps.Notes.CreateNote(r.Context(), title, desc)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, n)
	}
}

func handleListNotes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Notes.ListNotes(r.Context())
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Notes.GetNote(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

// handleUpdateNote applies a partial update: absent fields keep their
// current value.
func handleUpdateNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req noteRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}

		current, err := deps.Notes.GetNote(r.Context(), id)
		if err != nil {
			serviceError(w, err)
			return
		}
		title, desc := current.Title, current.Description
		if req.Title != nil {
			title = *req.Title
		}
		if req.Description != nil {
			desc = *req.Description
		}

		n, err := deps.Notes.UpdateNote(r.Context(), id, title, desc)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func handleDeleteNote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Notes.DeleteNote(r.Context(), chi.URLParam(r, "id")); err != nil {
			serviceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := queryParam(w, r, "q")
		if !ok {
			return
		}

		p := deps.SearchDefaults
		p.Query = q
		p.Limit = parseIntParam(r, "limit", p.Limit, maxSearchLimit)
		if p.Threshold, ok = parseFloatParam(w, r, "threshold", p.Threshold); !ok {
			return
		}
		if p.KeywordBoost, ok = parseFloatParam(w, r, "keyword_boost", p.KeywordBoost); !ok {
			return
		}

		results, err := deps.Notes.SearchSemantic(r.Context(), p)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func handleDebugSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := queryParam(w, r, "q")
		if !ok {
			return
		}
		boost, ok := parseFloatParam(w, r, "keyword_boost", deps.SearchDefaults.KeywordBoost)
		if !ok {
			return
		}

		report, err := deps.Notes.DebugSearch(r.Context(), q, boost)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		resp, err := deps.Notes.Ask(r.Context(), req.Question, req.SessionID)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Notes.RefreshEmbeddings(r.Context())
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": n})
	}
}

func handleSeed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		created, err := deps.Notes.Seed(r.Context())
		if err != nil {
			serviceError(w, err)
			return
		}
		ids := make([]string, len(created))
		for i, n := range created {
			ids[i] = n.ID
		}
		writeJSON(w, http.StatusCreated, map[string]any{"count": len(ids), "ids": ids})
	}
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingest.Request
		if !decodeBody(w, r, maxImportBodySize, &req) {
			return
		}
		doc, err := deps.Importer.Extract(r.Context(), req)
		if err != nil {
			serviceError(w, err)
			return
		}
		n, err := deps.Notes.CreateNote(r.Context(), doc.Title, doc.Text)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, n)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Notes.SessionHistory(chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleCleanupSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"purged": deps.Notes.CleanupSessions()})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

// parseFloatParam writes a 400 and reports false when the parameter is
// present but not a number.
func parseFloatParam(w http.ResponseWriter, r *http.Request, key string, defaultVal float64) (float64, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid %s: %q", key, s)
		return 0, false
	}
	return v, true
}

// queryParam writes a 400 and reports false when key is absent from the
// query string. An empty value is returned as is.
func queryParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	values := r.URL.Query()
	if !values.Has(key) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "query parameter %s is required", key)
		return "", false
	}
	return values.Get(key), true
}
