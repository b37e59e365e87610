// Package rag answers questions from the user's notes: retrieve, assemble a
// bounded context, generate, and remember the exchange.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/semnotes/internal/composer"
	"github.com/kalambet/semnotes/internal/engine"
	"github.com/kalambet/semnotes/internal/ranking"
	"github.com/kalambet/semnotes/internal/session"
)

// Retrieval policy for questions. Recall is favoured over precision: the
// model is told to ignore irrelevant notes, but it cannot use missing ones.
const (
	RetrievalK            = 10
	RetrievalThreshold    = 0.2
	RetrievalKeywordBoost = 0.2
)

// Generation defaults.
const (
	DefaultTemperature     = 0.3
	DefaultGenerateTimeout = 60 * time.Second
	DefaultHistoryLimit    = 10
)

// NoResultsAnswer is returned without calling the model when no note
// qualifies as a source.
const NoResultsAnswer = "I couldn't find any relevant information in your notes."

// DegradedAnswer replaces the model's answer when generation fails. The
// sources are still returned.
const DegradedAnswer = "Sorry, I couldn't generate an answer right now. The notes listed as sources may still help."

// Ranker retrieves scored notes for a question.
type Ranker interface {
	Rank(ctx context.Context, query string, opts ranking.Options) ([]ranking.Result, error)
}

// Generator produces the answer text.
type Generator interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error)
}

// Config tunes the orchestrator. Zero values select the defaults; a nil
// Temperature selects DefaultTemperature while an explicit zero is kept.
type Config struct {
	Model           string
	Temperature     *float64
	GenerateTimeout time.Duration
	HistoryLimit    int
}

// QAResponse is the result of Ask.
type QAResponse struct {
	Answer         string            `json:"answer"`
	Sources        []ranking.Result  `json:"sources"`
	SessionID      string            `json:"session_id"`
	MessageHistory []session.Message `json:"message_history"`
}

// Orchestrator runs the question-answering flow.
type Orchestrator struct {
	ranker    Ranker
	generator Generator
	sessions  *session.Store
	composer  *composer.Composer
	cfg       Config
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(r Ranker, g Generator, sessions *session.Store, comp *composer.Composer, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Temperature == nil {
		cfg.Temperature = engine.Float(DefaultTemperature)
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if comp == nil {
		comp = composer.New(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{ranker: r, generator: g, sessions: sessions, composer: comp, cfg: cfg, logger: logger}
}

// Ask answers question from the notes. sessionID may be empty or stale; a new
// session is created in that case and returned in the response.
//
// Retrieval failures are returned as errors. Generation failures are not:
// the response then carries DegradedAnswer together with the sources.
func (o *Orchestrator) Ask(ctx context.Context, question, sessionID string) (QAResponse, error) {
	sess := o.resolveSession(sessionID)

	// Prior turns only; the current question is sent separately.
	history := o.sessions.History(sess.ID, o.cfg.HistoryLimit)

	sess, err := o.append(sess.ID, session.RoleUser, question)
	if err != nil {
		return QAResponse{}, err
	}

	results, err := o.ranker.Rank(ctx, question, ranking.Options{
		K:            RetrievalK,
		Threshold:    RetrievalThreshold,
		KeywordBoost: RetrievalKeywordBoost,
	})
	if err != nil {
		return QAResponse{}, fmt.Errorf("retrieving notes: %w", err)
	}

	var answer string
	if len(results) == 0 {
		answer = NoResultsAnswer
	} else {
		answer = o.generate(ctx, question, results, history)
	}

	sess, err = o.append(sess.ID, session.RoleAssistant, answer)
	if err != nil {
		return QAResponse{}, err
	}

	if results == nil {
		results = []ranking.Result{}
	}
	return QAResponse{
		Answer:         answer,
		Sources:        results,
		SessionID:      sess.ID,
		MessageHistory: sess.Messages,
	}, nil
}

// resolveSession reuses sessionID when it is live and creates a session otherwise.
func (o *Orchestrator) resolveSession(sessionID string) session.Session {
	if sessionID != "" {
		s, err := o.sessions.Get(sessionID)
		if err == nil {
			return s
		}
		o.logger.Debug("rag: starting new session", "requested", sessionID, "reason", err)
	}
	return o.sessions.Create()
}

// append adds a message, recreating the session if it expired in between.
func (o *Orchestrator) append(id, role, content string) (session.Session, error) {
	s, err := o.sessions.AddMessage(id, role, content)
	if errors.Is(err, session.ErrExpired) || errors.Is(err, session.ErrNotFound) {
		fresh := o.sessions.Create()
		s, err = o.sessions.AddMessage(fresh.ID, role, content)
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("recording %s message: %w", role, err)
	}
	return s, nil
}

func (o *Orchestrator) generate(ctx context.Context, question string, results []ranking.Result, history []session.Message) string {
	noteContext := o.composer.BuildContext(results)
	msgs := o.composer.BuildMessages(question, noteContext, history)

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()

	start := time.Now()
	answer, err := o.generator.Chat(genCtx, o.cfg.Model, msgs, engine.ChatOptions{Temperature: o.cfg.Temperature})
	if err != nil {
		o.logger.Warn("rag: generation failed, returning degraded answer", "model", o.cfg.Model, "error", err)
		return DegradedAnswer
	}

	o.logger.Debug("rag: answer generated",
		"model", o.cfg.Model,
		"sources", len(results),
		"history", len(history),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return answer
}
