// Package config defines the application configuration for the memory
// chatbot. Each concern gets its own file and struct; AppConfig composes
// them and validates the whole thing at startup.
package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// AppConfig holds all application configuration
type AppConfig struct {
	// Service configuration
	ServiceName string `env:"SERVICE_NAME" yaml:"service_name" default:"memory-chatbot"`
	Version     string `env:"VERSION" yaml:"version" default:"dev"`
	Environment string `env:"ENVIRONMENT" yaml:"environment" default:"development"`

	// Oracle configuration
	Oracle    OracleConfig    `yaml:"oracle"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`

	// Embedding configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Memory engine configuration
	Memory    MemoryConfig    `yaml:"memory"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chat      ChatConfig      `yaml:"chat"`

	// Persistence configuration
	Storage StorageConfig `yaml:"storage"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`

	// Monitoring configuration
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// Validate validates the configuration and returns an error if invalid
func (c *AppConfig) Validate() error {
	var result error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		result = multierror.Append(result, fmt.Errorf("log_level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		result = multierror.Append(result, fmt.Errorf("log_format must be either 'json' or 'text', got %q", c.Logging.Format))
	}

	switch c.Oracle.Provider {
	case ProviderClaude:
		if c.Anthropic.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("anthropic api_key is required when oracle provider is %q", ProviderClaude))
		}
		if c.Anthropic.Timeout <= 0 {
			result = multierror.Append(result, fmt.Errorf("anthropic timeout must be greater than 0"))
		}
		if c.Anthropic.MaxRetries < 0 {
			result = multierror.Append(result, fmt.Errorf("anthropic max_retries cannot be negative"))
		}
		if c.Anthropic.InitialBackoff <= 0 {
			result = multierror.Append(result, fmt.Errorf("anthropic initial_backoff must be greater than 0"))
		}
		if c.Anthropic.MaxBackoff < c.Anthropic.InitialBackoff {
			result = multierror.Append(result, fmt.Errorf("anthropic max_backoff must be greater than or equal to initial_backoff"))
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("openai api_key is required when oracle provider is %q", ProviderOpenAI))
		}
		if c.OpenAI.Timeout <= 0 {
			result = multierror.Append(result, fmt.Errorf("openai timeout must be greater than 0"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("oracle provider must be %q or %q, got %q", ProviderClaude, ProviderOpenAI, c.Oracle.Provider))
	}

	if c.Oracle.MaxTokens <= 0 {
		result = multierror.Append(result, fmt.Errorf("oracle max_tokens must be greater than 0"))
	}

	switch c.Embedding.Provider {
	case EmbeddingProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			result = multierror.Append(result, fmt.Errorf("openai api_key is required when embedding provider is %q", EmbeddingProviderOpenAI))
		}
	case EmbeddingProviderMock:
	default:
		result = multierror.Append(result, fmt.Errorf("embedding provider must be %q or %q, got %q", EmbeddingProviderOpenAI, EmbeddingProviderMock, c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		result = multierror.Append(result, fmt.Errorf("embedding dimensions must be greater than 0"))
	}

	if c.Memory.ImportanceDecay <= 0 || c.Memory.ImportanceDecay > 1 {
		result = multierror.Append(result, fmt.Errorf("memory importance_decay must be in (0, 1], got %v", c.Memory.ImportanceDecay))
	}
	if c.Memory.MinImportance < 0 || c.Memory.MinImportance > 1 {
		result = multierror.Append(result, fmt.Errorf("memory min_importance must be in [0, 1], got %v", c.Memory.MinImportance))
	}
	if c.Memory.RetentionWindow < 0 {
		result = multierror.Append(result, fmt.Errorf("memory retention_window cannot be negative"))
	}

	if c.Snapshot.UpdateInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("snapshot update_interval must be greater than 0"))
	}
	if c.Snapshot.ClusterSimilarity <= 0 || c.Snapshot.ClusterSimilarity >= 1 {
		result = multierror.Append(result, fmt.Errorf("snapshot cluster_similarity must be in (0, 1), got %v", c.Snapshot.ClusterSimilarity))
	}

	if c.Retrieval.TopK <= 0 {
		result = multierror.Append(result, fmt.Errorf("retrieval top_k must be greater than 0"))
	}
	if c.Retrieval.Threshold <= 0 || c.Retrieval.Threshold >= 1 {
		result = multierror.Append(result, fmt.Errorf("retrieval threshold must be in (0, 1), got %v", c.Retrieval.Threshold))
	}
	if c.Retrieval.SnapshotDiscount <= 0 || c.Retrieval.SnapshotDiscount > 1 {
		result = multierror.Append(result, fmt.Errorf("retrieval snapshot_discount must be in (0, 1], got %v", c.Retrieval.SnapshotDiscount))
	}
	if c.Retrieval.CandidateRelaxation <= 0 || c.Retrieval.CandidateRelaxation > 1 {
		result = multierror.Append(result, fmt.Errorf("retrieval candidate_relaxation must be in (0, 1], got %v", c.Retrieval.CandidateRelaxation))
	}
	if c.Retrieval.JudgeThreshold < 0 || c.Retrieval.JudgeThreshold > 1 {
		result = multierror.Append(result, fmt.Errorf("retrieval judge_threshold must be in [0, 1], got %v", c.Retrieval.JudgeThreshold))
	}
	if c.Retrieval.CacheTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("retrieval cache_ttl must be greater than 0"))
	}

	if c.Chat.HistoryCapacity <= 0 {
		result = multierror.Append(result, fmt.Errorf("chat history_capacity must be greater than 0"))
	}
	if c.Chat.ConsolidationQueueSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("chat consolidation_queue_size must be greater than 0"))
	}
	if c.Chat.ConsolidationRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("chat consolidation_retries cannot be negative"))
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			result = multierror.Append(result, fmt.Errorf("storage local_dir is required for local backend"))
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			result = multierror.Append(result, fmt.Errorf("storage s3_bucket is required for s3 backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("storage backend must be 'local' or 's3', got %q", c.Storage.Backend))
	}

	if c.Monitoring.MetricsEnabled && (c.Monitoring.MetricsPort < 1 || c.Monitoring.MetricsPort > 65535) {
		result = multierror.Append(result, fmt.Errorf("metrics_port must be between 1 and 65535, got %d", c.Monitoring.MetricsPort))
	}

	return result
}

// GetLogLevel returns the parsed logger level
func (c *AppConfig) GetLogLevel() logger.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return logger.DebugLevel
	case "warn", "warning":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

// GetOracleRetryConfig returns retry configuration for the active oracle
// provider.
func (c *AppConfig) GetOracleRetryConfig() RetryConfig {
	if c.Oracle.Provider == ProviderOpenAI {
		return RetryConfig{
			MaxRetries:     c.OpenAI.MaxRetries,
			InitialBackoff: c.OpenAI.InitialBackoff,
			MaxBackoff:     c.OpenAI.MaxBackoff,
		}
	}
	return RetryConfig{
		MaxRetries:     c.Anthropic.MaxRetries,
		InitialBackoff: c.Anthropic.InitialBackoff,
		MaxBackoff:     c.Anthropic.MaxBackoff,
	}
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// LogConfig logs the current configuration (without sensitive data)
func (c *AppConfig) LogConfig(log logger.Logger) {
	log.Info("Application configuration loaded",
		logger.StringField("service_name", c.ServiceName),
		logger.StringField("version", c.Version),
		logger.StringField("environment", c.Environment),
		logger.StringField("oracle_provider", c.Oracle.Provider),
		logger.StringField("embedding_provider", c.Embedding.Provider),
		logger.StringField("storage_backend", c.Storage.Backend),
		logger.IntField("retrieval_top_k", c.Retrieval.TopK),
		logger.FloatField("retrieval_threshold", c.Retrieval.Threshold),
		logger.BoolField("judge_enabled", c.Retrieval.JudgeEnabled),
		logger.DurationField("snapshot_update_interval", c.Snapshot.UpdateInterval),
		logger.StringField("log_level", c.Logging.Level),
		logger.StringField("log_format", c.Logging.Format),
		logger.BoolField("metrics_enabled", c.Monitoring.MetricsEnabled),
	)
}
