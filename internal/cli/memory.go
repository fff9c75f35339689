package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/memory_chatbot/internal/config"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// MemoryCommand returns the memory maintenance command group.
func MemoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and maintain the long-term memory store",
		Subcommands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Print memory store statistics",
				Action: withApplication(memoryStatsAction),
			},
			{
				Name:   "consolidate",
				Usage:  "Run a consolidation cycle now",
				Action: withApplication(memoryConsolidateAction),
			},
			{
				Name:  "cleanup",
				Usage: "Remove memories older than the retention cutoff",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Age cutoff (defaults to the configured retention window)",
					},
				},
				Action: withApplication(memoryCleanupAction),
			},
			{
				Name:  "clear",
				Usage: "Delete all memories, snapshots and vectors",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Skip the confirmation prompt",
					},
				},
				Action: withApplication(memoryClearAction),
			},
		},
	}
}

// withApplication wraps a subcommand action with config loading, application
// assembly and teardown.
func withApplication(fn func(ctx context.Context, cliCtx *cli.Context, app *application, cfg *config.AppConfig) error) cli.ActionFunc {
	return func(cliCtx *cli.Context) error {
		log := getLogger(cliCtx)

		cfg, err := loadConfig(cliCtx)
		if err != nil {
			log.Error("Failed to load configuration", logger.ErrorField(err))
			return err
		}

		ctx, cancel := context.WithCancel(cliCtx.Context)
		defer cancel()
		setupGracefulShutdown(cancel, log)

		app, err := buildApplication(ctx, cfg, log)
		if err != nil {
			log.Error("Failed to build application", logger.ErrorField(err))
			return err
		}
		defer app.Close()

		return fn(ctx, cliCtx, app, cfg)
	}
}

func memoryStatsAction(_ context.Context, _ *cli.Context, app *application, _ *config.AppConfig) error {
	stats := app.store.GetStats()
	fmt.Printf("entries:         %d\n", stats.Entries)
	fmt.Printf("indexed:         %d\n", stats.Indexed)
	fmt.Printf("mean importance: %.2f\n", stats.MeanImportance)
	if !stats.OldestEntry.IsZero() {
		fmt.Printf("oldest entry:    %s\n", stats.OldestEntry.Format(time.RFC3339))
		fmt.Printf("newest entry:    %s\n", stats.NewestEntry.Format(time.RFC3339))
	}
	return nil
}

func memoryConsolidateAction(ctx context.Context, _ *cli.Context, app *application, _ *config.AppConfig) error {
	start := time.Now()
	if err := app.engine.RunConsolidationCycle(ctx); err != nil {
		return err
	}
	fmt.Printf("consolidation cycle complete in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func memoryCleanupAction(ctx context.Context, cliCtx *cli.Context, app *application, cfg *config.AppConfig) error {
	olderThan := cliCtx.Duration("older-than")
	if olderThan <= 0 {
		olderThan = cfg.Memory.RetentionWindow
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	before := app.store.Len()
	if err := app.snapshots.CleanupOlderThan(ctx, cutoff); err != nil {
		return err
	}
	fmt.Printf("removed %d memories older than %s\n", before-app.store.Len(), olderThan)
	return nil
}

func memoryClearAction(ctx context.Context, cliCtx *cli.Context, app *application, _ *config.AppConfig) error {
	if !cliCtx.Bool("yes") {
		fmt.Print("This deletes every stored memory. Type 'yes' to continue: ")
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil || answer != "yes" {
			fmt.Println("aborted")
			return nil
		}
	}
	if err := app.engine.ClearAll(ctx); err != nil {
		return err
	}
	fmt.Println("all memories cleared")
	return nil
}
