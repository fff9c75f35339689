package config

import "time"

// MemoryConfig holds raw memory store configuration
type MemoryConfig struct {
	// RetentionWindow is how long entries are kept before cleanup removes
	// them. Zero disables retention-based cleanup.
	RetentionWindow time.Duration `env:"MEMORY_RETENTION_WINDOW" yaml:"retention_window" default:"720h"`

	// ImportanceDecay is the multiplicative decay applied to an entry's
	// importance on each access-driven refresh.
	ImportanceDecay float64 `env:"MEMORY_IMPORTANCE_DECAY" yaml:"importance_decay" default:"0.995"`

	// MinImportance is the floor below which decay stops.
	MinImportance float64 `env:"MEMORY_MIN_IMPORTANCE" yaml:"min_importance" default:"0.1"`

	// RebuildThreshold is the collection size past which the vector index
	// is rebuilt after bulk changes.
	RebuildThreshold int `env:"MEMORY_REBUILD_THRESHOLD" yaml:"rebuild_threshold" default:"10000"`
}
