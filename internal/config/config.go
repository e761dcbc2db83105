// Package config provides application configuration with multi-source
// priority.
//
// Sources, highest priority first:
//  1. Environment variables (PARLEY_* plus DATABASE_URL)
//  2. Config file (./parley.yaml or /etc/parley/parley.yaml)
//  3. Defaults
//
// Sensitive values (database password, API keys) are masked by MarshalJSON
// and String, so a logged Config never leaks secrets.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors for validation, checked with errors.Is().
var (
	ErrConfigNil            = errors.New("configuration is nil")
	ErrInvalidModelName     = errors.New("invalid model name")
	ErrInvalidProvider      = errors.New("invalid provider")
	ErrInvalidPostgresHost  = errors.New("invalid PostgreSQL host")
	ErrInvalidPostgresPort  = errors.New("invalid PostgreSQL port")
	ErrInvalidPostgresDB    = errors.New("invalid PostgreSQL database name")
	ErrInvalidListenAddr    = errors.New("invalid listen address")
	ErrInvalidMaxTurns      = errors.New("invalid max turns")
	ErrInvalidChunkLimits   = errors.New("invalid chunk limits")
	ErrIncompleteReranker   = errors.New("incomplete reranker configuration")
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")
)

// Deployment provider identifiers.
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderEcho     = "echo"
)

// DefaultEmbedderModel is the embedder used for the document index. It is
// truncated to 768 dimensions to match the pgvector schema.
const DefaultEmbedderModel = "gemini-embedding-001"

// RerankerConfig holds the rerank endpoint settings. An empty BaseURL
// disables reranking.
type RerankerConfig struct {
	BaseURL           string  `mapstructure:"base_url" json:"base_url"`
	APIKey            string  `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	Model             string  `mapstructure:"model" json:"model"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
}

// MarshalJSON masks the API key.
func (c RerankerConfig) MarshalJSON() ([]byte, error) {
	type alias RerankerConfig
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	return json.Marshal(a)
}

// SearXNGConfig holds the web search endpoint settings. An empty BaseURL
// disables the web_search tool.
type SearXNGConfig struct {
	BaseURL    string `mapstructure:"base_url" json:"base_url"`
	MaxResults int    `mapstructure:"max_results" json:"max_results"`
}

// OTelConfig holds trace export settings. An empty Endpoint disables
// exporting.
type OTelConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
type Config struct {
	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateLimit   float64  `mapstructure:"rate_limit" json:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Deployment
	Provider   string `mapstructure:"provider" json:"provider"`
	ModelName  string `mapstructure:"model_name" json:"model_name"`
	MaxTurns   int    `mapstructure:"max_turns" json:"max_turns"`
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Conversation history
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`

	// Collation
	SoftWordLimit int  `mapstructure:"soft_word_limit" json:"soft_word_limit"`
	HardWordLimit int  `mapstructure:"hard_word_limit" json:"hard_word_limit"`
	CompactChunks bool `mapstructure:"compact_chunks" json:"compact_chunks"`

	// Document index
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	IndexTopK     int    `mapstructure:"index_top_k" json:"index_top_k"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	Reranker RerankerConfig `mapstructure:"reranker" json:"reranker"`
	SearXNG  SearXNGConfig  `mapstructure:"searxng" json:"searxng"`
	OTel     OTelConfig     `mapstructure:"otel" json:"otel"`
}

// Load loads configuration from defaults, file and environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("parley")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/parley")

	setDefaults(v)

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("no configuration file found, using defaults",
			"search_paths", []string{".", "/etc/parley"})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 20)

	v.SetDefault("provider", ProviderGoogleAI)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("max_turns", 4)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("max_history_messages", 50)

	v.SetDefault("soft_word_limit", 100)
	v.SetDefault("hard_word_limit", 300)
	v.SetDefault("compact_chunks", false)

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("index_top_k", 5)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "parley")
	v.SetDefault("postgres_password", "parley_dev_password")
	v.SetDefault("postgres_db_name", "parley")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("reranker.model", "rerank-v3.5")
	v.SetDefault("reranker.requests_per_second", 10.0)

	v.SetDefault("searxng.max_results", 5)

	v.SetDefault("otel.service_name", "parley")
	v.SetDefault("otel.environment", "dev")
}

// maskedValue replaces secret content. Full-width blocks avoid substring
// matches against real secret characters.
const maskedValue = "████████"

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields. Nested configs holding secrets mask
// their own.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String prevents accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified model name for Genkit, e.g.
// "googleai/gemini-2.5-flash". A name already containing "/" is returned
// as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return c.Provider + "/" + c.ModelName
}
