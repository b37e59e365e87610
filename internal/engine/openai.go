package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEngine talks to any OpenAI-compatible API: OpenAI itself, OpenRouter,
// or a local mlx-lm / llama.cpp server exposing /v1.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an engine for the API at baseURL. An empty baseURL
// selects the public OpenAI endpoint.
func NewOpenAIEngine(baseURL, apiKey string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg)}
}

func (e *OpenAIEngine) Name() string { return ProviderOpenAI }

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  make([]openai.ChatCompletionMessage, len(messages)),
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
		// The request omits a zero temperature; the smallest positive value
		// is the client's way of asking for greedy decoding.
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	rsp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", ErrUnavailable, err)
	}
	if len(rsp.Choices) == 0 || rsp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, errors.New("empty chat completion"))
	}
	return rsp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	rsp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings: %w", ErrUnavailable, err)
	}
	if len(rsp.Data) == 0 {
		return nil, fmt.Errorf("embeddings: empty data array")
	}
	return rsp.Data[0].Embedding, nil
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEngine) ListModels(ctx context.Context) ([]string, error) {
	list, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenAIEngine) HasModel(ctx context.Context, name string) bool {
	models, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name {
			return true
		}
	}
	return false
}

// PullModel is not available on hosted APIs.
func (e *OpenAIEngine) PullModel(_ context.Context, _ string, _ func(PullProgress)) error {
	return ErrUnsupported
}
