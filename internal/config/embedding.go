package config

import "time"

// Embedding provider constants
const (
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderMock   = "mock"
)

// EmbeddingConfig holds text-embedding configuration
type EmbeddingConfig struct {
	// Provider specifies the embedding backend: "openai" or "mock".
	// The mock provider is deterministic and needs no API key.
	Provider   string        `env:"EMBEDDING_PROVIDER" yaml:"provider" default:"openai"`
	Model      string        `env:"EMBEDDING_MODEL" yaml:"model" default:"text-embedding-3-small"`
	Dimensions int           `env:"EMBEDDING_DIMENSIONS" yaml:"dimensions" default:"1536"`
	Timeout    time.Duration `env:"EMBEDDING_TIMEOUT" yaml:"timeout" default:"30s"`
}
