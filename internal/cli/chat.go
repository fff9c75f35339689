package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/lewisedginton/memory_chatbot/internal/memory_store"
	"github.com/lewisedginton/memory_chatbot/pkg/logger"
)

// ChatCommand returns the interactive chat command.
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with the memory-backed assistant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Value:   "default",
				Usage:   "User ID attached to stored memories",
				EnvVars: []string{"CHAT_USER"},
			},
			&cli.StringFlag{
				Name:  "topic",
				Usage: "Optional conversation topic",
			},
			&cli.BoolFlag{
				Name:  "new-session",
				Usage: "Start a fresh session instead of resuming the latest",
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "Send a single message and exit instead of starting the REPL",
			},
		},
		Action: chatAction,
	}
}

func chatAction(cliCtx *cli.Context) error {
	log := getLogger(cliCtx)

	cfg, err := loadConfig(cliCtx)
	if err != nil {
		log.Error("Failed to load configuration", logger.ErrorField(err))
		return err
	}
	cfg.LogConfig(log)

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()
	setupGracefulShutdown(cancel, log)

	app, err := buildApplication(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build application", logger.ErrorField(err))
		return err
	}
	defer app.Close()

	if cfg.Monitoring.MetricsEnabled {
		go func() {
			if err := app.monitor.Serve(ctx, cfg.Monitoring.MetricsPort); err != nil {
				log.Error("Monitoring server failed", logger.ErrorField(err))
			}
		}()
	}

	userID := cliCtx.String("user")
	topic := cliCtx.String("topic")

	var sessionID string
	if cliCtx.Bool("new-session") {
		sessionID, err = app.sessions.CreateNewSession(ctx, userID, topic)
	} else {
		sessionID, err = app.sessions.GetOrCreateSession(ctx, userID, topic)
	}
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	if restored, err := app.sessions.LoadHistory(ctx, sessionID); err != nil {
		log.Warn("Failed to restore session history", logger.ErrorField(err))
	} else if len(restored) > 0 {
		app.engine.History().Restore(restored)
		fmt.Printf("Resumed session %s (%d messages)\n", sessionID, len(restored))
	}

	turnCtx := &memory_store.TurnContext{
		UserID:    userID,
		SessionID: sessionID,
		Topic:     topic,
	}

	if message := cliCtx.String("message"); message != "" {
		return runSingleTurn(ctx, app, sessionID, message, turnCtx)
	}
	return runREPL(ctx, app, sessionID, turnCtx)
}

func runSingleTurn(ctx context.Context, app *application, sessionID, message string, turnCtx *memory_store.TurnContext) error {
	result, err := app.engine.Chat(ctx, message, turnCtx)
	if err != nil {
		return err
	}
	fmt.Println(result.Reply)

	if err := app.sessions.TouchSession(ctx, sessionID); err != nil {
		app.log.Warn("Failed to touch session", logger.ErrorField(err))
	}
	if err := app.sessions.SaveHistory(ctx, sessionID, app.engine.History().Messages()); err != nil {
		app.log.Warn("Failed to save session history", logger.ErrorField(err))
	}
	return nil
}

func runREPL(ctx context.Context, app *application, sessionID string, turnCtx *memory_store.TurnContext) error {
	fmt.Println("Connected. Type a message, or /help for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := handleSlashCommand(ctx, app, line)
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}
			if done {
				break
			}
			continue
		}

		result, err := app.engine.Chat(ctx, line, turnCtx)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(result.Reply)

		if err := app.sessions.TouchSession(ctx, sessionID); err != nil {
			app.log.Warn("Failed to touch session", logger.ErrorField(err))
		}
		if err := app.sessions.SaveHistory(ctx, sessionID, app.engine.History().Messages()); err != nil {
			app.log.Warn("Failed to save session history", logger.ErrorField(err))
		}
	}

	return scanner.Err()
}

// handleSlashCommand runs a REPL command. It returns true when the REPL
// should exit.
func handleSlashCommand(ctx context.Context, app *application, line string) (bool, error) {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true, nil
	case "/stats":
		stats := app.engine.GetStats()
		fmt.Printf("turns: %d, history messages: %d, memories: %d (mean importance %.2f)\n",
			stats.Turns, stats.History, stats.Memories.Entries, stats.Memories.MeanImportance)
		return false, nil
	case "/consolidate":
		if err := app.engine.RunConsolidationCycle(ctx); err != nil {
			return false, err
		}
		fmt.Println("consolidation cycle complete")
		return false, nil
	case "/clear":
		if err := app.engine.ClearAll(ctx); err != nil {
			return false, err
		}
		fmt.Println("all memories cleared")
		return false, nil
	case "/help":
		fmt.Println("commands: /stats /consolidate /clear /quit")
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q", line)
	}
}
