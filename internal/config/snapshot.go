package config

import "time"

// SnapshotConfig holds consolidation-cycle configuration
type SnapshotConfig struct {
	// UpdateInterval is how fresh a detail snapshot has to be for the
	// consolidation cycle to reuse it instead of regenerating.
	UpdateInterval time.Duration `env:"SNAPSHOT_UPDATE_INTERVAL" yaml:"update_interval" default:"24h"`

	// ClusterSimilarity is the cosine-equivalent similarity above which two
	// detail snapshots are clustered under one base snapshot.
	ClusterSimilarity float64 `env:"SNAPSHOT_CLUSTER_SIMILARITY" yaml:"cluster_similarity" default:"0.8"`

	// MaxMemoriesPerBatch caps how many memories feed a single detail
	// snapshot prompt. Zero means no cap.
	MaxMemoriesPerBatch int `env:"SNAPSHOT_MAX_MEMORIES_PER_BATCH" yaml:"max_memories_per_batch" default:"20"`
}
