package config

import "time"

// RetrievalConfig holds memory retrieval configuration
type RetrievalConfig struct {
	TopK      int     `env:"RETRIEVAL_TOP_K" yaml:"top_k" default:"5"`
	Threshold float64 `env:"RETRIEVAL_THRESHOLD" yaml:"threshold" default:"0.55"`

	// UseBaseSnapshots enables the second retrieval path that searches
	// base-snapshot text and expands to the referenced memories.
	UseBaseSnapshots bool `env:"RETRIEVAL_USE_BASE_SNAPSHOTS" yaml:"use_base_snapshots" default:"true"`

	// SnapshotDiscount is applied to scores inherited through a base
	// snapshot match.
	SnapshotDiscount float64 `env:"RETRIEVAL_SNAPSHOT_DISCOUNT" yaml:"snapshot_discount" default:"0.9"`

	// CandidateRelaxation widens the first-pass vector search so that
	// context boosting can rescue borderline candidates.
	CandidateRelaxation float64 `env:"RETRIEVAL_CANDIDATE_RELAXATION" yaml:"candidate_relaxation" default:"0.8"`

	// Context boost factors. Copied over from the tuning runs that produced
	// them; treat as dials, not truths.
	SameUserBoost    float64 `env:"RETRIEVAL_SAME_USER_BOOST" yaml:"same_user_boost" default:"1.2"`
	SameSessionBoost float64 `env:"RETRIEVAL_SAME_SESSION_BOOST" yaml:"same_session_boost" default:"1.3"`
	SameTopicBoost   float64 `env:"RETRIEVAL_SAME_TOPIC_BOOST" yaml:"same_topic_boost" default:"1.1"`

	// Per-kind score weights.
	WeightImportant float64 `env:"RETRIEVAL_WEIGHT_IMPORTANT" yaml:"weight_important" default:"1.5"`
	WeightConcept   float64 `env:"RETRIEVAL_WEIGHT_CONCEPT" yaml:"weight_concept" default:"1.3"`
	WeightExample   float64 `env:"RETRIEVAL_WEIGHT_EXAMPLE" yaml:"weight_example" default:"1.2"`
	WeightGeneral   float64 `env:"RETRIEVAL_WEIGHT_GENERAL" yaml:"weight_general" default:"1.0"`

	// JudgeScanLimit bounds the full-scan fallback used when vector
	// search finds nothing (newest memories first).
	JudgeScanLimit int `env:"RETRIEVAL_JUDGE_SCAN_LIMIT" yaml:"judge_scan_limit" default:"50"`

	// JudgeEnabled turns on the oracle relevance filter after ranking.
	JudgeEnabled bool `env:"RETRIEVAL_JUDGE_ENABLED" yaml:"judge_enabled" default:"true"`

	// JudgeThreshold is the minimum relevance score the judge must assign
	// for a memory to survive the filter.
	JudgeThreshold float64 `env:"RETRIEVAL_JUDGE_THRESHOLD" yaml:"judge_threshold" default:"0.5"`

	// Cache settings for recent query results.
	CacheTTL     time.Duration `env:"RETRIEVAL_CACHE_TTL" yaml:"cache_ttl" default:"3600s"`
	CacheMaxCost int64         `env:"RETRIEVAL_CACHE_MAX_COST" yaml:"cache_max_cost" default:"33554432"`
}
