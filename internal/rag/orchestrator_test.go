package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/semnotes/internal/engine"
	"github.com/kalambet/semnotes/internal/ranking"
	"github.com/kalambet/semnotes/internal/session"
	"github.com/kalambet/semnotes/internal/vectorindex"
)

type mockRanker struct {
	rankFn func(ctx context.Context, query string, opts ranking.Options) ([]ranking.Result, error)
}

func (m *mockRanker) Rank(ctx context.Context, query string, opts ranking.Options) ([]ranking.Result, error) {
	return m.rankFn(ctx, query, opts)
}

type mockGenerator struct {
	calls  int
	chatFn func(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error)
}

func (m *mockGenerator) Chat(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error) {
	m.calls++
	return m.chatFn(ctx, model, messages, opts)
}

func travelResult() ranking.Result {
	return ranking.Result{
		ID:         "note-travel",
		Metadata:   vectorindex.Metadata{Title: "旅行计划", Description: "下个月去云南旅行7天，先到昆明再去大理和丽江。"},
		Similarity: 0.91,
	}
}

func TestAsk_NoNotes(t *testing.T) {
	gen := &mockGenerator{chatFn: func(context.Context, string, []engine.Message, engine.ChatOptions) (string, error) {
		return "should not be called", nil
	}}
	r := &mockRanker{rankFn: func(context.Context, string, ranking.Options) ([]ranking.Result, error) {
		return nil, nil
	}}
	o := New(r, gen, session.NewStore(0), nil, Config{Model: "llama3.2"}, nil)

	resp, err := o.Ask(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Answer != NoResultsAnswer {
		t.Errorf("answer = %q, want canned no-results answer", resp.Answer)
	}
	if resp.Sources == nil || len(resp.Sources) != 0 {
		t.Errorf("sources = %v, want empty non-nil slice", resp.Sources)
	}
	if resp.SessionID == "" {
		t.Error("SessionID is empty")
	}
	if len(resp.MessageHistory) != 2 {
		t.Fatalf("history has %d messages, want 2", len(resp.MessageHistory))
	}
	if resp.MessageHistory[0].Role != session.RoleUser || resp.MessageHistory[1].Role != session.RoleAssistant {
		t.Errorf("roles = %s, %s", resp.MessageHistory[0].Role, resp.MessageHistory[1].Role)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func TestAsk_RetrievalPolicyAndGeneration(t *testing.T) {
	var gotOpts ranking.Options
	r := &mockRanker{rankFn: func(_ context.Context, query string, opts ranking.Options) ([]ranking.Result, error) {
		gotOpts = opts
		return []ranking.Result{travelResult()}, nil
	}}

	var gotMsgs []engine.Message
	var gotChat engine.ChatOptions
	var gotModel string
	gen := &mockGenerator{chatFn: func(_ context.Context, model string, msgs []engine.Message, opts engine.ChatOptions) (string, error) {
		gotModel, gotMsgs, gotChat = model, msgs, opts
		return "你计划下个月去云南旅行7天。", nil
	}}

	o := New(r, gen, session.NewStore(0), nil, Config{Model: "llama3.2"}, nil)
	resp, err := o.Ask(context.Background(), "我的旅行计划是什么？", "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if gotOpts.K != RetrievalK || gotOpts.Threshold != RetrievalThreshold || gotOpts.KeywordBoost != RetrievalKeywordBoost {
		t.Errorf("rank options = %+v", gotOpts)
	}
	if gotModel != "llama3.2" || gotChat.Temperature == nil || *gotChat.Temperature != DefaultTemperature {
		t.Errorf("model = %q, temperature = %v", gotModel, gotChat.Temperature)
	}
	last := gotMsgs[len(gotMsgs)-1]
	if last.Role != engine.RoleUser || !strings.Contains(last.Content, "旅行计划") || !strings.Contains(last.Content, "我的旅行计划是什么？") {
		t.Errorf("last message = %+v", last)
	}
	if resp.Answer != "你计划下个月去云南旅行7天。" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ID != "note-travel" {
		t.Errorf("sources = %+v", resp.Sources)
	}
}

func TestAsk_ZeroTemperatureIsKept(t *testing.T) {
	r := &mockRanker{rankFn: func(context.Context, string, ranking.Options) ([]ranking.Result, error) {
		return []ranking.Result{travelResult()}, nil
	}}
	var got *float64
	gen := &mockGenerator{chatFn: func(_ context.Context, _ string, _ []engine.Message, opts engine.ChatOptions) (string, error) {
		got = opts.Temperature
		return "云南", nil
	}}

	o := New(r, gen, session.NewStore(0), nil, Config{Model: "llama3.2", Temperature: engine.Float(0)}, nil)
	if _, err := o.Ask(context.Background(), "旅行", ""); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got == nil || *got != 0 {
		t.Errorf("temperature = %v, want 0", got)
	}
}

func TestAsk_SessionReuseCarriesHistory(t *testing.T) {
	r := &mockRanker{rankFn: func(context.Context, string, ranking.Options) ([]ranking.Result, error) {
		return []ranking.Result{travelResult()}, nil
	}}
	var second []engine.Message
	gen := &mockGenerator{}
	gen.chatFn = func(_ context.Context, _ string, msgs []engine.Message, _ engine.ChatOptions) (string, error) {
		if gen.calls == 2 {
			second = msgs
		}
		return "answer", nil
	}

	o := New(r, gen, session.NewStore(0), nil, Config{Model: "llama3.2"}, nil)
	first, err := o.Ask(context.Background(), "我的旅行计划是什么？", "")
	if err != nil {
		t.Fatalf("first Ask: %v", err)
	}

	resp, err := o.Ask(context.Background(), "要去几天？", first.SessionID)
	if err != nil {
		t.Fatalf("second Ask: %v", err)
	}
	if resp.SessionID != first.SessionID {
		t.Errorf("session changed: %s -> %s", first.SessionID, resp.SessionID)
	}
	if len(resp.MessageHistory) != 4 {
		t.Errorf("history has %d messages, want 4", len(resp.MessageHistory))
	}

	// system + prior user + prior assistant + current question
	if len(second) != 4 {
		t.Fatalf("second prompt has %d messages, want 4: %+v", len(second), second)
	}
	if second[1].Content != "我的旅行计划是什么？" || second[2].Content != "answer" {
		t.Errorf("prior turns = %+v", second[1:3])
	}
	for _, m := range second[:3] {
		if strings.Contains(m.Content, "要去几天？") {
			t.Errorf("current question leaked into history: %+v", m)
		}
	}
}

func TestAsk_UnknownSessionStartsNewOne(t *testing.T) {
	r := &mockRanker{rankFn: func(context.Context, string, ranking.Options) ([]ranking.Result, error) {
		return nil, nil
	}}
	gen := &mockGenerator{chatFn: func(context.Context, string, []engine.Message, engine.ChatOptions) (string, error) {
		return "", nil
	}}
	store := session.NewStore(0)
	o := New(r, gen, store, nil, Config{}, nil)

	resp, err := o.Ask(context.Background(), "hi", "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.SessionID == "00000000-0000-0000-0000-000000000000" {
		t.Error("stale session id was reused")
	}
	if _, err := store.Get(resp.SessionID); err != nil {
		t.Errorf("new session not stored: %v", err)
	}
	if len(resp.MessageHistory) != 2 {
		t.Errorf("history has %d messages, want 2", len(resp.MessageHistory))
	}
}

func TestAsk_GenerationFailureDegrades(t *testing.T) {
	r := &mockRanker{rankFn: func(context.Context, string, ranking.Options) ([]ranking.Result, error) {
		return []ranking.Result{travelResult()}, nil
	}}
	gen := &mockGenerator{chatFn: func(context.Context, string, []engine.Message, engine.ChatOptions) (string, error) {
		return "", engine.ErrUnavailable
	}}
	o := New(r, gen, session.NewStore(0), nil, Config{Model: "llama3.2"}, nil)

	resp, err := o.Ask(context.Background(), "我的旅行计划是什么？", "")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Answer != DegradedAnswer {
		t.Errorf("answer = %q, want degraded answer", resp.Answer)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("sources = %+v, want the retrieved note", resp.Sources)
	}
	if got := resp.MessageHistory[len(resp.MessageHistory)-1]; got.Content != DegradedAnswer {
		t.Errorf("last message = %+v", got)
	}
}

func TestAsk_RetrievalFailureIsFatal(t *testing.T) {
	errIndex := errors.New("index down")
	r := &mockRanker{rankFn: func(context.Context, string, ranking.Options) ([]ranking.Result, error) {
		return nil, errIndex
	}}
	gen := &mockGenerator{chatFn: func(context.Context, string, []engine.Message, engine.ChatOptions) (string, error) {
		return "x", nil
	}}
	o := New(r, gen, session.NewStore(0), nil, Config{}, nil)

	_, err := o.Ask(context.Background(), "q", "")
	if !errors.Is(err, errIndex) {
		t.Errorf("err = %v, want wrapped index error", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func TestAsk_HistoryLimit(t *testing.T) {
	r := &mockRanker{rankFn: func(context.Context, string, ranking.Options) ([]ranking.Result, error) {
		return []ranking.Result{travelResult()}, nil
	}}
	var last []engine.Message
	gen := &mockGenerator{chatFn: func(_ context.Context, _ string, msgs []engine.Message, _ engine.ChatOptions) (string, error) {
		last = msgs
		return "a", nil
	}}
	o := New(r, gen, session.NewStore(0), nil, Config{HistoryLimit: 2}, nil)

	var id string
	for i := 0; i < 4; i++ {
		resp, err := o.Ask(context.Background(), "q", id)
		if err != nil {
			t.Fatalf("Ask %d: %v", i, err)
		}
		id = resp.SessionID
	}
	// system + 2 history + current
	if len(last) != 4 {
		t.Errorf("prompt has %d messages, want 4", len(last))
	}
}
