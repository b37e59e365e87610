package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicEngine generates answers with the Anthropic Messages API. It has no
// embedding endpoint, so it is only valid as the generation provider.
type AnthropicEngine struct {
	client anthropic.Client
	apiKey string
}

// NewAnthropicEngine creates an engine authenticated with apiKey. A non-empty
// baseURL overrides the API endpoint.
func NewAnthropicEngine(baseURL, apiKey string) *AnthropicEngine {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicEngine{client: anthropic.NewClient(opts...), apiKey: apiKey}
}

func (e *AnthropicEngine) Name() string { return ProviderAnthropic }

// Chat sends the conversation to the Messages API. System messages are lifted
// into the request's system prompt since the API does not accept them inline.
func (e *AnthropicEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	maxTokens := int64(defaultAnthropicMaxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}

	var system []string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	rsp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: messages: %w", ErrUnavailable, err)
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, errors.New("empty response from Anthropic"))
	}
	return b.String(), nil
}

func (e *AnthropicEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, fmt.Errorf("anthropic embeddings: %w", ErrUnsupported)
}

// IsRunning reports whether credentials are configured; the hosted API has
// no cheap liveness probe.
func (e *AnthropicEngine) IsRunning(_ context.Context) bool {
	return e.apiKey != ""
}

func (e *AnthropicEngine) ListModels(ctx context.Context) ([]string, error) {
	page, err := e.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	names := make([]string, len(page.Data))
	for i, m := range page.Data {
		names[i] = m.ID
	}
	return names, nil
}

// HasModel trusts the configured name; an unknown model surfaces on the first Chat.
func (e *AnthropicEngine) HasModel(_ context.Context, _ string) bool {
	return true
}

func (e *AnthropicEngine) PullModel(_ context.Context, _ string, _ func(PullProgress)) error {
	return ErrUnsupported
}
