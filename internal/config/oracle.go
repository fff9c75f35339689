package config

import "time"

// Oracle provider constants
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// OracleConfig holds language-model oracle selection configuration
type OracleConfig struct {
	// Provider specifies which oracle backend to use: "claude" or "openai"
	Provider string `env:"ORACLE_PROVIDER" yaml:"provider" default:"claude"`

	// MaxTokens caps the length of generated replies and summaries
	MaxTokens int `env:"ORACLE_MAX_TOKENS" yaml:"max_tokens" default:"1024"`
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey         string        `env:"ANTHROPIC_API_KEY" yaml:"api_key"`
	Model          string        `env:"CLAUDE_MODEL" yaml:"model" default:"claude-sonnet-4-5-20250929"`
	APIBaseURL     string        `env:"ANTHROPIC_API_URL" yaml:"api_base_url" default:"https://api.anthropic.com"`
	MaxRetries     int           `env:"ANTHROPIC_MAX_RETRIES" yaml:"max_retries" default:"3"`
	InitialBackoff time.Duration `env:"ANTHROPIC_INITIAL_BACKOFF" yaml:"initial_backoff" default:"1s"`
	MaxBackoff     time.Duration `env:"ANTHROPIC_MAX_BACKOFF" yaml:"max_backoff" default:"10s"`
	Timeout        time.Duration `env:"ANTHROPIC_TIMEOUT" yaml:"timeout" default:"30s"`
}

// OpenAIConfig holds OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey         string        `env:"OPENAI_API_KEY" yaml:"api_key"`
	Model          string        `env:"OPENAI_MODEL" yaml:"model" default:"gpt-4o"`
	APIBaseURL     string        `env:"OPENAI_API_URL" yaml:"api_base_url" default:"https://api.openai.com/v1"`
	MaxRetries     int           `env:"OPENAI_MAX_RETRIES" yaml:"max_retries" default:"3"`
	InitialBackoff time.Duration `env:"OPENAI_INITIAL_BACKOFF" yaml:"initial_backoff" default:"1s"`
	MaxBackoff     time.Duration `env:"OPENAI_MAX_BACKOFF" yaml:"max_backoff" default:"10s"`
	Timeout        time.Duration `env:"OPENAI_TIMEOUT" yaml:"timeout" default:"30s"`
}

// RetryConfig represents backoff configuration for oracle calls
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}
