package cli

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/memory_chatbot/internal/chat_engine"
	appconfig "github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/internal/embedding"
	"github.com/lewisedginton/memory_chatbot/internal/memory_retriever"
	"github.com/lewisedginton/memory_chatbot/internal/memory_store"
	"github.com/lewisedginton/memory_chatbot/internal/monitoring"
	"github.com/lewisedginton/memory_chatbot/internal/oracle"
	"github.com/lewisedginton/memory_chatbot/internal/prompt_manager"
	"github.com/lewisedginton/memory_chatbot/internal/session_manager"
	"github.com/lewisedginton/memory_chatbot/internal/snapshot_manager"
	"github.com/lewisedginton/memory_chatbot/internal/storage_manager"
	"github.com/lewisedginton/memory_chatbot/internal/vector_index"
	pkgconfig "github.com/lewisedginton/memory_chatbot/pkg/config"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
	"github.com/lewisedginton/memory_chatbot/pkg/metrics"
)

// application holds the assembled memory engine and its supporting
// services. Built once per command invocation.
type application struct {
	cfg       *appconfig.AppConfig
	log       logger.Logger
	metrics   *metrics.Metrics
	storage   *storage_manager.StorageManager
	store     *memory_store.Store
	snapshots *snapshot_manager.Manager
	retriever *memory_retriever.Retriever
	engine    *chat_engine.Engine
	sessions  session_manager.Manager
	monitor   *monitoring.HealthMonitor

	memIndex *vector_index.Index
	vectors  storage_manager.FileProvider
}

// loadConfig loads and validates the application configuration from the
// optional config file plus environment variables.
func loadConfig(ctx *cli.Context) (*appconfig.AppConfig, error) {
	cfg := &appconfig.AppConfig{}
	if err := pkgconfig.Load(cfg, ctx.String("config-file"), true); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// buildApplication assembles the full engine from configuration and loads
// persisted state.
func buildApplication(ctx context.Context, cfg *appconfig.AppConfig, log logger.Logger) (*application, error) {
	m := metrics.NewMetrics()

	storage, err := buildStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.NewFromConfig(cfg, log, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	baseOracle, err := oracle.NewFromConfig(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle: %w", err)
	}
	retryCfg := cfg.GetOracleRetryConfig()

	memIndex, err := vector_index.New("memories", embedder, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory index: %w", err)
	}
	baseIndex, err := vector_index.New("bases", embedder, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create base index: %w", err)
	}

	// Restore the persisted memory index before the store loads, so
	// already-indexed entries are not re-embedded through the live
	// embedder on every startup. A corrupt pair is discarded and the
	// index is rebuilt from the store instead.
	vectors := storage.GetProvider(storage_manager.NamespaceVectors)
	if err := memIndex.Load(ctx, vectors); err != nil {
		if !errors.Is(err, vector_index.ErrIndexCorrupt) {
			return nil, fmt.Errorf("failed to load memory index: %w", err)
		}
		log.Warn("Persisted memory index is corrupt, rebuilding from the store", logger.ErrorField(err))
	}

	store := memory_store.New(
		storage.GetProvider(storage_manager.NamespaceMemories),
		memIndex, cfg.Memory, log, m,
	)
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load memory store: %w", err)
	}

	snapshots := snapshot_manager.NewManager(
		snapshot_manager.NewSnapshotStore(storage.GetProvider(storage_manager.NamespaceSnapshots), log),
		snapshot_manager.NewGenerator(oracle.WithRetry(baseOracle, retryCfg, "snapshot_generator", log, m), log, m),
		store, embedder, baseIndex, cfg.Snapshot, log, m,
	)
	if err := snapshots.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	var judge *memory_retriever.Judge
	if cfg.Retrieval.JudgeEnabled {
		judge = memory_retriever.NewJudge(
			oracle.WithRetry(baseOracle, retryCfg, "relevance_judge", log, m),
			cfg.Retrieval.JudgeThreshold, log,
		)
	}

	retriever, err := memory_retriever.New(store, snapshots, judge, cfg.Retrieval, log, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	prompts := prompt_manager.New(storage.GetProvider(storage_manager.NamespacePrompts))
	persona := prompts.GetPersonaOrDefault(ctx, "")

	engine := chat_engine.New(chat_engine.Options{
		Oracle:    oracle.WithRetry(baseOracle, retryCfg, "chat_reply", log, m),
		Retriever: retriever,
		Store:     store,
		Snapshots: snapshots,
		ChatCfg:   cfg.Chat,
		RetCfg:    cfg.Retrieval,
		MemCfg:    cfg.Memory,
		MaxTokens: cfg.Oracle.MaxTokens,
		Persona:   persona,
		Logger:    log,
	})

	sessions, err := session_manager.New(session_manager.Config{
		MetadataFile: "sessions.json",
		FileProvider: storage.GetProvider(storage_manager.NamespaceSessions),
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	monitor := monitoring.NewHealthMonitor(monitoring.Config{
		Logger:       log,
		Metrics:      m,
		OracleAPIURL: oracleAPIURL(cfg),
		StorageCheck: func(ctx context.Context) error {
			root := storage.GetRootProvider()
			if err := root.Write(ctx, ".healthcheck", []byte("ok")); err != nil {
				return err
			}
			_, err := root.Read(ctx, ".healthcheck")
			return err
		},
		IndexCheck: func(context.Context) error {
			if indexed, stored := memIndex.Len(), store.Len(); indexed < stored {
				return fmt.Errorf("vector index behind memory store: %d indexed, %d stored", indexed, stored)
			}
			return nil
		},
		Timeout: cfg.Monitoring.HealthCheckTimeout,
	})

	return &application{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		storage:   storage,
		store:     store,
		snapshots: snapshots,
		retriever: retriever,
		engine:    engine,
		sessions:  sessions,
		monitor:   monitor,
		memIndex:  memIndex,
		vectors:   vectors,
	}, nil
}

// Close releases background workers and caches, and persists the memory
// index so the next startup does not re-embed the whole store.
func (a *application) Close() {
	a.engine.Close()
	a.retriever.Close()

	if err := a.memIndex.Save(context.Background(), a.vectors); err != nil {
		a.log.Warn("Failed to persist memory index", logger.ErrorField(err))
	}
}

// buildStorage creates the storage manager for the configured backend.
func buildStorage(ctx context.Context, cfg *appconfig.AppConfig) (*storage_manager.StorageManager, error) {
	switch cfg.Storage.Backend {
	case string(storage_manager.BackendS3):
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.Storage.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Storage.S3Region))
		}
		if cfg.Storage.S3Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Storage.S3Profile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return storage_manager.New(storage_manager.Config{
			Backend: storage_manager.BackendS3,
			S3Config: &storage_manager.S3Config{
				Bucket: cfg.Storage.S3Bucket,
				Prefix: cfg.Storage.S3Prefix,
				Client: s3.NewFromConfig(awsCfg),
			},
		})
	default:
		return storage_manager.New(storage_manager.Config{
			Backend:     storage_manager.BackendLocal,
			LocalConfig: &storage_manager.LocalConfig{BaseDir: cfg.Storage.LocalDir},
		})
	}
}

func oracleAPIURL(cfg *appconfig.AppConfig) string {
	switch cfg.Oracle.Provider {
	case appconfig.ProviderOpenAI:
		return cfg.OpenAI.APIBaseURL
	default:
		return cfg.Anthropic.APIBaseURL
	}
}
