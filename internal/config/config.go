package config

import (
	"fmt"
	"time"
)

// Index backends.
const (
	IndexSQLite   = "sqlite"
	IndexQdrant   = "qdrant"
	IndexPGVector = "pgvector"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Models    ModelsConfig
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Storage   StorageConfig
	Index     IndexConfig
	Retrieval RetrievalConfig
	Session   SessionConfig
	Timeouts  TimeoutsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
	APIToken   string // optional bearer token for /api/v1
}

type OllamaConfig struct {
	BaseURL string
}

// ModelsConfig selects the providers and models for generation and embedding.
type ModelsConfig struct {
	ChatProvider  string
	ChatModel     string
	EmbedProvider string
	EmbedModel    string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type IndexConfig struct {
	Backend          string
	Metric           string
	QdrantURL        string
	QdrantCollection string
	QdrantAPIKey     string
	PostgresDSN      string
}

// RetrievalConfig holds the defaults for semantic search requests.
type RetrievalConfig struct {
	Limit        int
	Threshold    float64
	KeywordBoost float64
}

type SessionConfig struct {
	Timeout       time.Duration
	HistoryMax    int
	SweepSchedule string
}

type TimeoutsConfig struct {
	Embed    time.Duration
	Index    time.Duration
	Generate time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Models: ModelsConfig{
			ChatProvider:  "ollama",
			ChatModel:     "llama3.2",
			EmbedProvider: "ollama",
			EmbedModel:    "nomic-embed-text",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Index: IndexConfig{
			Backend:          IndexSQLite,
			Metric:           "cosine",
			QdrantURL:        "http://localhost:6333",
			QdrantCollection: "notes",
		},
		Retrieval: RetrievalConfig{
			Limit:        5,
			Threshold:    0.3,
			KeywordBoost: 0.2,
		},
		Session: SessionConfig{
			Timeout:       30 * time.Minute,
			HistoryMax:    10,
			SweepSchedule: "@every 5m",
		},
		Timeouts: TimeoutsConfig{
			Embed:    30 * time.Second,
			Index:    10 * time.Second,
			Generate: 60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.semnotes.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/semnotes/config.json
// and secrets fall back to $XDG_DATA_HOME/semnotes/secrets.json.
//
// Environment variables (SEMNOTES_*) override backend values on all platforms.
func Load() (Config, error) {
	b, err := newPlatformBackend()
	if err != nil {
		return Config{}, err
	}
	return loadWith(b, newSecretStore())
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets still empty after env overrides come from the secret store.
	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks provider, backend and credential combinations.
func (c Config) Validate() error {
	switch c.Models.ChatProvider {
	case "ollama":
	case "openai":
		if c.OpenAI.APIKey == "" {
			return missingSecret("OpenAI API key", "SEMNOTES_OPENAI_API_KEY", "openai_api_key")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return missingSecret("Anthropic API key", "SEMNOTES_ANTHROPIC_API_KEY", "anthropic_api_key")
		}
	default:
		return fmt.Errorf("invalid models.chat_provider %q: want ollama, openai or anthropic", c.Models.ChatProvider)
	}

	switch c.Models.EmbedProvider {
	case "ollama":
	case "openai":
		if c.OpenAI.APIKey == "" {
			return missingSecret("OpenAI API key", "SEMNOTES_OPENAI_API_KEY", "openai_api_key")
		}
	default:
		return fmt.Errorf("invalid models.embed_provider %q: want ollama or openai", c.Models.EmbedProvider)
	}

	switch c.Index.Backend {
	case IndexSQLite, IndexQdrant:
	case IndexPGVector:
		if c.Index.PostgresDSN == "" {
			return missingSecret("Postgres DSN", "SEMNOTES_INDEX_POSTGRES_DSN", "postgres_dsn")
		}
	default:
		return fmt.Errorf("invalid index.backend %q: want sqlite, qdrant or pgvector", c.Index.Backend)
	}

	switch c.Index.Metric {
	case "cosine", "l2", "ip":
	default:
		return fmt.Errorf("invalid index.metric %q: want cosine, l2 or ip", c.Index.Metric)
	}
	return nil
}

func missingSecret(what, env, account string) error {
	msg := "missing required config: " + what + ". " +
		"Set it via environment variable " + env +
		" or " + newSecretStore().Location(account)
	return fmt.Errorf("%s", msg)
}
