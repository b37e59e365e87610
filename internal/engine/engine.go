package engine

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable wraps any transport or backend failure of an inference call.
	ErrUnavailable = errors.New("inference backend unavailable")

	// ErrUnsupported is returned by backends that lack an operation, such as
	// embeddings on Anthropic or model pulls on hosted APIs.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Engine abstracts an inference backend (Ollama, an OpenAI-compatible server
// or Anthropic). Generation and embedding consumers depend on this interface
// instead of a concrete client.
type Engine interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of the models the backend serves.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
