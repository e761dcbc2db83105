package config

import (
	"fmt"
	"slices"
)

var validProviders = []string{ProviderGoogleAI, ProviderOpenAI, ProviderOllama, ProviderEcho}

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate checks configuration values. It returns sentinel errors usable
// with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr cannot be empty", ErrInvalidListenAddr)
	}

	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q (valid: %v)", ErrInvalidProvider, c.Provider, validProviders)
	}
	if c.Provider != ProviderEcho && c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.MaxTurns < 1 || c.MaxTurns > 10 {
		return fmt.Errorf("%w: must be between 1 and 10, got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	if c.SoftWordLimit < 1 {
		return fmt.Errorf("%w: soft_word_limit must be positive, got %d", ErrInvalidChunkLimits, c.SoftWordLimit)
	}
	if c.HardWordLimit < c.SoftWordLimit {
		return fmt.Errorf("%w: hard_word_limit %d is below soft_word_limit %d",
			ErrInvalidChunkLimits, c.HardWordLimit, c.SoftWordLimit)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDB)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: unknown sslmode %q", ErrInvalidPostgresDB, c.PostgresSSLMode)
	}

	// Reranking is optional, but a partially configured endpoint is a
	// deployment mistake worth failing on.
	if c.Reranker.BaseURL != "" && c.Reranker.Model == "" {
		return fmt.Errorf("%w: reranker.model is required when reranker.base_url is set", ErrIncompleteReranker)
	}

	return nil
}
