package config

// ChatConfig holds chat engine configuration
type ChatConfig struct {
	// HistoryCapacity is the number of turns kept in the rolling
	// conversation window (each turn is a user message plus a reply).
	HistoryCapacity int `env:"CHAT_HISTORY_CAPACITY" yaml:"history_capacity" default:"15"`

	// ConsolidationQueueSize bounds the background consolidation queue.
	ConsolidationQueueSize int `env:"CHAT_CONSOLIDATION_QUEUE_SIZE" yaml:"consolidation_queue_size" default:"16"`

	// ConsolidationRetries is how many times a failed background
	// consolidation task is retried before being dropped.
	ConsolidationRetries int `env:"CHAT_CONSOLIDATION_RETRIES" yaml:"consolidation_retries" default:"2"`

	// ConsolidationEvery triggers a consolidation cycle after this many
	// recorded turns. Zero disables automatic triggering.
	ConsolidationEvery int `env:"CHAT_CONSOLIDATION_EVERY" yaml:"consolidation_every" default:"10"`
}
