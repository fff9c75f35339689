package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// getLogger retrieves the logger from the CLI context metadata.
func getLogger(ctx *cli.Context) logger.Logger {
	if ctx.App.Metadata != nil {
		if log, ok := ctx.App.Metadata["logger"].(logger.Logger); ok {
			return log
		}
	}

	// Fallback to default logger if not found
	return logger.NewLogger(logger.Config{
		Level:   logger.InfoLevel,
		Format:  "json",
		Service: "memory-chatbot",
	})
}

// setupGracefulShutdown cancels the given context on SIGINT or SIGTERM.
func setupGracefulShutdown(cancel context.CancelFunc, log logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("Received shutdown signal", logger.StringField("signal", sig.String()))
		cancel()
	}()
}
