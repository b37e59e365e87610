package engine

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions tunes a single chat completion. A nil Temperature or a zero
// MaxTokens leaves the backend default in place.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Float returns a pointer to v, for optional fields such as
// ChatOptions.Temperature.
func Float(v float64) *float64 { return &v }

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
