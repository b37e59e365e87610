package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/kalambet/semnotes/internal/embedding"
	"github.com/kalambet/semnotes/internal/ingest"
	"github.com/kalambet/semnotes/internal/notes"
	"github.com/kalambet/semnotes/internal/rag"
	"github.com/kalambet/semnotes/internal/ranking"
	"github.com/kalambet/semnotes/internal/session"
	"github.com/kalambet/semnotes/internal/storage"
	"github.com/kalambet/semnotes/internal/vectorindex"
)

const noteID = "3f1c2b7a-9d4e-4f6a-8b2c-1a2b3c4d5e6f"

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

func TestHealth(t *testing.T) {
	h := NewHandler(Deps{Notes: &mockNotes{}})
	rr := serve(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestCreateNote(t *testing.T) {
	var gotTitle, gotDesc string
	svc := &mockNotes{createFn: func(_ context.Context, title, desc string) (storage.Note, error) {
		gotTitle, gotDesc = title, desc
		return storage.Note{ID: noteID, Title: title, Description: desc}, nil
	}}
	h := NewHandler(Deps{Notes: svc})

	rr := serve(t, h, http.MethodPost, "/api/v1/notes/", `{"title":"旅行计划","description":"云南7天"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rr.Code, rr.Body)
	}
	if gotTitle != "旅行计划" || gotDesc != "云南7天" {
		t.Errorf("service got %q / %q", gotTitle, gotDesc)
	}
	var n storage.Note
	json.NewDecoder(rr.Body).Decode(&n)
	if n.ID != noteID {
		t.Errorf("id = %q", n.ID)
	}
}

func TestCreateNote_NoTrailingSlash(t *testing.T) {
	h := NewHandler(Deps{Notes: &mockNotes{}})
	rr := serve(t, h, http.MethodPost, "/api/v1/notes", `{"title":"t"}`)
	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rr.Code)
	}
}

func TestCreateNote_BadRequests(t *testing.T) {
	h := NewHandler(Deps{Notes: &mockNotes{}})

	rr := serve(t, h, http.MethodPost, "/api/v1/notes/", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid json: status = %d, want 400", rr.Code)
	}
	rr = serve(t, h, http.MethodPost, "/api/v1/notes/", `{"title":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty note: status = %d, want 400", rr.Code)
	}
}

func TestGetNote_ErrorMapping(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
		wantType string
	}{
		{fmt.Errorf("%w: %q", notes.ErrInvalidIdentifier, "x"), http.StatusBadRequest, "invalid_request_error"},
		{notes.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("semantic search: %w", embedding.ErrModelUnavailable), http.StatusServiceUnavailable, "service_unavailable"},
		{vectorindex.ErrIndexUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "api_error"},
	}
	for _, tc := range cases {
		svc := &mockNotes{getFn: func(context.Context, string) (storage.Note, error) { return storage.Note{}, tc.err }}
		rr := serve(t, NewHandler(Deps{Notes: svc}), http.MethodGet, "/api/v1/notes/"+noteID, "")
		if rr.Code != tc.wantCode {
			t.Errorf("%v: status = %d, want %d", tc.err, rr.Code, tc.wantCode)
			continue
		}
		if got := errorType(t, rr); got != tc.wantType {
			t.Errorf("%v: type = %q, want %q", tc.err, got, tc.wantType)
		}
	}
}

func TestUpdateNote_Partial(t *testing.T) {
	var gotTitle, gotDesc string
	svc := &mockNotes{
		getFn: func(_ context.Context, id string) (storage.Note, error) {
			return storage.Note{ID: id, Title: "old title", Description: "old body"}, nil
		},
		updateFn: func(_ context.Context, id, title, desc string) (storage.Note, error) {
			gotTitle, gotDesc = title, desc
			return storage.Note{ID: id, Title: title, Description: desc}, nil
		},
	}
	h := NewHandler(Deps{Notes: svc})

	rr := serve(t, h, http.MethodPut, "/api/v1/notes/"+noteID, `{"description":"new body"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if gotTitle != "old title" || gotDesc != "new body" {
		t.Errorf("update got %q / %q", gotTitle, gotDesc)
	}
}

func TestUpdateNote_Missing(t *testing.T) {
	h := NewHandler(Deps{Notes: &mockNotes{}})
	rr := serve(t, h, http.MethodPut, "/api/v1/notes/"+noteID, `{"title":"x"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	var deleted string
	svc := &mockNotes{deleteFn: func(_ context.Context, id string) error {
		if deleted == id {
			return notes.ErrNotFound
		}
		deleted = id
		return nil
	}}
	h := NewHandler(Deps{Notes: svc})

	if rr := serve(t, h, http.MethodDelete, "/api/v1/notes/"+noteID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if rr := serve(t, h, http.MethodDelete, "/api/v1/notes/"+noteID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestListNotes_EmptyArray(t *testing.T) {
	h := NewHandler(Deps{Notes: &mockNotes{}})
	rr := serve(t, h, http.MethodGet, "/api/v1/notes/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestSearch_DefaultsAndOverrides(t *testing.T) {
	var got notes.SearchParams
	svc := &mockNotes{searchFn: func(_ context.Context, p notes.SearchParams) ([]ranking.Result, error) {
		got = p
		return []ranking.Result{{ID: noteID, Metadata: vectorindex.Metadata{Title: "旅行计划"}, Similarity: 0.9}}, nil
	}}
	h := NewHandler(Deps{Notes: svc})

	rr := serve(t, h, http.MethodGet, "/api/v1/notes/search/?q="+url.QueryEscape("旅行"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if got.Query != "旅行" || got.Limit != 5 || got.Threshold != 0.3 || got.KeywordBoost != 0.2 {
		t.Errorf("defaults = %+v", got)
	}
	var results []ranking.Result
	json.NewDecoder(rr.Body).Decode(&results)
	if len(results) != 1 || results[0].Similarity != 0.9 {
		t.Errorf("results = %+v", results)
	}

	serve(t, h, http.MethodGet, "/api/v1/notes/search?q=go&limit=3&threshold=0&keyword_boost=0.5", "")
	if got.Limit != 3 || got.Threshold != 0 || got.KeywordBoost != 0.5 {
		t.Errorf("overrides = %+v", got)
	}

	serve(t, h, http.MethodGet, "/api/v1/notes/search/?q=go&limit=100000", "")
	if got.Limit != maxSearchLimit {
		t.Errorf("limit = %d, want capped at %d", got.Limit, maxSearchLimit)
	}
}

func TestSearch_ConfiguredDefaults(t *testing.T) {
	var got notes.SearchParams
	svc := &mockNotes{searchFn: func(_ context.Context, p notes.SearchParams) ([]ranking.Result, error) {
		got = p
		return []ranking.Result{}, nil
	}}
	h := NewHandler(Deps{Notes: svc, SearchDefaults: notes.SearchParams{Limit: 8, Threshold: 0.5, KeywordBoost: 0.1}})

	serve(t, h, http.MethodGet, "/api/v1/notes/search/?q=go", "")
	if got.Limit != 8 || got.Threshold != 0.5 || got.KeywordBoost != 0.1 {
		t.Errorf("params = %+v", got)
	}
}

func TestSearch_BadParams(t *testing.T) {
	h := NewHandler(Deps{Notes: &mockNotes{}})
	if rr := serve(t, h, http.MethodGet, "/api/v1/notes/search/", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rr.Code)
	}
	if rr := serve(t, h, http.MethodGet, "/api/v1/notes/search/?q=x&threshold=high", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad threshold: status = %d, want 400", rr.Code)
	}
}

func TestSearch_EmptyQueryIsForwarded(t *testing.T) {
	called := false
	svc := &mockNotes{searchFn: func(_ context.Context, p notes.SearchParams) ([]ranking.Result, error) {
		called = true
		if p.Query != "" {
			t.Errorf("query = %q, want empty", p.Query)
		}
		return []ranking.Result{}, nil
	}}
	h := NewHandler(Deps{Notes: svc})

	rr := serve(t, h, http.MethodGet, "/api/v1/notes/search/?q=", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if !called {
		t.Error("SearchSemantic not called for an empty query")
	}

	if rr := serve(t, h, http.MethodGet, "/api/v1/notes/search/debug/?limit=3", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("debug without q: status = %d, want 400", rr.Code)
	}
}

func TestSearch_EmptyResult(t *testing.T) {
	h := NewHandler(Deps{Notes: &mockNotes{}})
	rr := serve(t, h, http.MethodGet, "/api/v1/notes/search/?q=nothing", "")
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestDebugSearch(t *testing.T) {
	var gotBoost float64
	svc := &mockNotes{debugFn: func(_ context.Context, q string, boost float64) (ranking.DebugReport, error) {
		gotBoost = boost
		return ranking.DebugReport{Query: q, SuggestedThreshold: 0.42}, nil
	}}
	h := NewHandler(Deps{Notes: svc})

	rr := serve(t, h, http.MethodGet, "/api/v1/notes/search/debug/?q=go", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var report ranking.DebugReport
	json.NewDecoder(rr.Body).Decode(&report)
	if report.Query != "go" || report.SuggestedThreshold != 0.42 || gotBoost != 0.2 {
		t.Errorf("report = %+v, boost = %v", report, gotBoost)
	}
}

func TestAsk(t *testing.T) {
	var gotQ, gotSession string
	svc := &mockNotes{askFn: func(_ context.Context, q, sid string) (rag.QAResponse, error) {
		gotQ, gotSession = q, sid
		return rag.QAResponse{
			Answer:    "你计划去云南旅行7天。",
			Sources:   []ranking.Result{{ID: noteID, Similarity: 0.91}},
			SessionID: "sess-1",
			MessageHistory: []session.Message{
				{Role: session.RoleUser, Content: q},
				{Role: session.RoleAssistant, Content: "你计划去云南旅行7天。"},
			},
		}, nil
	}}
	h := NewHandler(Deps{Notes: svc})

	rr := serve(t, h, http.MethodPost, "/api/v1/notes/ask/", `{"question":"我的旅行计划是什么？","session_id":"sess-1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if gotQ != "我的旅行计划是什么？" || gotSession != "sess-1" {
		t.Errorf("service got %q / %q", gotQ, gotSession)
	}

	var body map[string]json.RawMessage
	json.NewDecoder(rr.Body).Decode(&body)
	for _, key := range []string{"answer", "sources", "session_id", "message_history"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response lacks %q", key)
		}
	}
}

func TestAsk_RetrievalFailure(t *testing.T) {
	svc := &mockNotes{askFn: func(context.Context, string, string) (rag.QAResponse, error) {
		return rag.QAResponse{}, fmt.Errorf("retrieving notes: %w", vectorindex.ErrIndexUnavailable)
	}}
	rr := serve(t, NewHandler(Deps{Notes: svc}), http.MethodPost, "/api/v1/notes/ask", `{"question":"q"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}

func TestRefreshAndSeed(t *testing.T) {
	svc := &mockNotes{
		refreshFn: func(context.Context) (int, error) { return 5, nil },
		seedFn: func(context.Context) ([]storage.Note, error) {
			return []storage.Note{{ID: "a"}, {ID: "b"}}, nil
		},
	}
	h := NewHandler(Deps{Notes: svc})

	rr := serve(t, h, http.MethodPost, "/api/v1/notes/refresh-embeddings", "")
	var refresh map[string]int
	json.NewDecoder(rr.Body).Decode(&refresh)
	if rr.Code != http.StatusOK || refresh["count"] != 5 {
		t.Errorf("refresh: status = %d, body = %v", rr.Code, refresh)
	}

	rr = serve(t, h, http.MethodPost, "/api/v1/notes/seed", "")
	var seed struct {
		Count int      `json:"count"`
		IDs   []string `json:"ids"`
	}
	json.NewDecoder(rr.Body).Decode(&seed)
	if rr.Code != http.StatusCreated || seed.Count != 2 || len(seed.IDs) != 2 {
		t.Errorf("seed: status = %d, body = %+v", rr.Code, seed)
	}
}

func TestImport(t *testing.T) {
	var gotTitle, gotDesc string
	svc := &mockNotes{createFn: func(_ context.Context, title, desc string) (storage.Note, error) {
		gotTitle, gotDesc = title, desc
		return storage.Note{ID: noteID, Title: title, Description: desc}, nil
	}}
	h := NewHandler(Deps{Notes: svc, Importer: ingest.NewExtractor(nil)})

	content := base64.StdEncoding.EncodeToString([]byte("学习计划\n学习Go并发"))
	rr := serve(t, h, http.MethodPost, "/api/v1/notes/import", `{"type":"file","content":"`+content+`"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if gotTitle != "学习计划" || !strings.Contains(gotDesc, "学习Go并发") {
		t.Errorf("created %q / %q", gotTitle, gotDesc)
	}

	rr = serve(t, h, http.MethodPost, "/api/v1/notes/import", `{"type":"pdf","content":"`+base64.StdEncoding.EncodeToString([]byte("nope"))+`"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad pdf: status = %d, want 400", rr.Code)
	}
}

func TestImport_NotServedWithoutImporter(t *testing.T) {
	h := NewHandler(Deps{Notes: &mockNotes{}})
	rr := serve(t, h, http.MethodPost, "/api/v1/notes/import", `{"content":"x"}`)
	if rr.Code == http.StatusCreated {
		t.Error("import served without an importer")
	}
}

func TestSessions(t *testing.T) {
	svc := &mockNotes{
		sessionFn: func(id string) (session.Session, error) {
			if id != "live" {
				return session.Session{}, session.ErrExpired
			}
			return session.Session{ID: id, Messages: []session.Message{{Role: "user", Content: "hi"}}}, nil
		},
		cleanupFn: func() int { return 3 },
	}
	h := NewHandler(Deps{Notes: svc})

	rr := serve(t, h, http.MethodGet, "/api/v1/sessions/live", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var s session.Session
	json.NewDecoder(rr.Body).Decode(&s)
	if s.ID != "live" || len(s.Messages) != 1 {
		t.Errorf("session = %+v", s)
	}

	if rr := serve(t, h, http.MethodGet, "/api/v1/sessions/gone", ""); rr.Code != http.StatusNotFound {
		t.Errorf("expired session: status = %d, want 404", rr.Code)
	}

	rr = serve(t, h, http.MethodPost, "/api/v1/sessions/cleanup", "")
	var cleanup map[string]int
	json.NewDecoder(rr.Body).Decode(&cleanup)
	if cleanup["purged"] != 3 {
		t.Errorf("cleanup = %v", cleanup)
	}
}
