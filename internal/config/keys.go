package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret store account for secrets
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SEMNOTES_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "SEMNOTES_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "server.api_token", typ: kString, env: "SEMNOTES_SERVER_API_TOKEN",
		secret: true, account: "api_token",
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SEMNOTES_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "models.chat_provider", typ: kString, env: "SEMNOTES_MODELS_CHAT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Models.ChatProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.ChatProvider },
	},
	{
		key: "models.chat_model", typ: kString, env: "SEMNOTES_MODELS_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Models.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.ChatModel },
	},
	{
		key: "models.embed_provider", typ: kString, env: "SEMNOTES_MODELS_EMBED_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Models.EmbedProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.EmbedProvider },
	},
	{
		key: "models.embed_model", typ: kString, env: "SEMNOTES_MODELS_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Models.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Models.EmbedModel },
	},
	{
		key: "openai.base_url", typ: kString, env: "SEMNOTES_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "SEMNOTES_OPENAI_API_KEY",
		secret: true, account: "openai_api_key",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "anthropic.base_url", typ: kString, env: "SEMNOTES_ANTHROPIC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.BaseURL },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "SEMNOTES_ANTHROPIC_API_KEY",
		secret: true, account: "anthropic_api_key",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SEMNOTES_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "index.backend", typ: kString, env: "SEMNOTES_INDEX_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Index.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Backend },
	},
	{
		key: "index.metric", typ: kString, env: "SEMNOTES_INDEX_METRIC",
		apply:   func(cfg *Config, v any) { cfg.Index.Metric = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Metric },
	},
	{
		key: "index.qdrant_url", typ: kString, env: "SEMNOTES_INDEX_QDRANT_URL",
		apply:   func(cfg *Config, v any) { cfg.Index.QdrantURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.QdrantURL },
	},
	{
		key: "index.qdrant_collection", typ: kString, env: "SEMNOTES_INDEX_QDRANT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Index.QdrantCollection = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.QdrantCollection },
	},
	{
		key: "index.qdrant_api_key", typ: kString, env: "SEMNOTES_INDEX_QDRANT_API_KEY",
		secret: true, account: "qdrant_api_key",
		apply:   func(cfg *Config, v any) { cfg.Index.QdrantAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.QdrantAPIKey },
	},
	{
		key: "index.postgres_dsn", typ: kString, env: "SEMNOTES_INDEX_POSTGRES_DSN",
		secret: true, account: "postgres_dsn",
		apply:   func(cfg *Config, v any) { cfg.Index.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.PostgresDSN },
	},
	{
		key: "retrieval.limit", typ: kInt, env: "SEMNOTES_RETRIEVAL_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.Limit },
	},
	{
		key: "retrieval.threshold", typ: kFloat, env: "SEMNOTES_RETRIEVAL_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.Threshold },
	},
	{
		key: "retrieval.keyword_boost", typ: kFloat, env: "SEMNOTES_RETRIEVAL_KEYWORD_BOOST",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.KeywordBoost = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.KeywordBoost },
	},
	{
		key: "session.timeout", typ: kDuration, env: "SEMNOTES_SESSION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Session.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.Timeout },
	},
	{
		key: "session.history_max", typ: kInt, env: "SEMNOTES_SESSION_HISTORY_MAX",
		apply:   func(cfg *Config, v any) { cfg.Session.HistoryMax = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.HistoryMax },
	},
	{
		key: "session.sweep_schedule", typ: kString, env: "SEMNOTES_SESSION_SWEEP_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Session.SweepSchedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.SweepSchedule },
	},
	{
		key: "timeouts.embed", typ: kDuration, env: "SEMNOTES_TIMEOUTS_EMBED",
		apply:   func(cfg *Config, v any) { cfg.Timeouts.Embed = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Timeouts.Embed },
	},
	{
		key: "timeouts.index", typ: kDuration, env: "SEMNOTES_TIMEOUTS_INDEX",
		apply:   func(cfg *Config, v any) { cfg.Timeouts.Index = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Timeouts.Index },
	},
	{
		key: "timeouts.generate", typ: kDuration, env: "SEMNOTES_TIMEOUTS_GENERATE",
		apply:   func(cfg *Config, v any) { cfg.Timeouts.Generate = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Timeouts.Generate },
	},
	{
		key: "log.level", typ: kString, env: "SEMNOTES_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts a raw string into the key's value type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err == nil && d <= 0 {
			err = fmt.Errorf("duration must be positive")
		}
		return d, err
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
